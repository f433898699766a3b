package app

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/engagement-analysis/advert-sync/internal/audience"
	"github.com/engagement-analysis/advert-sync/internal/config"
	"github.com/engagement-analysis/advert-sync/internal/contacts"
	"github.com/engagement-analysis/advert-sync/internal/httpclient"
	"github.com/engagement-analysis/advert-sync/internal/logger"
	"github.com/engagement-analysis/advert-sync/internal/membership"
	"github.com/engagement-analysis/advert-sync/internal/records"
	"github.com/engagement-analysis/advert-sync/internal/sync"
	"github.com/engagement-analysis/advert-sync/internal/telemetry"
	"github.com/engagement-analysis/advert-sync/internal/versions"
)

// loadConfig loads the configuration named by --config and checks that this
// binary is recent enough to run it.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	path := v.GetString("config")
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	info := versions.GetVersionInfo()
	if err := versions.CheckMinimum(info.Version, cfg.MinVersion); err != nil {
		return nil, err
	}
	if cfg.MinVersion != "" && info.IsDevelopment() {
		logger.Warnf("Development build %s is not checked against minVersion %s", info.Version, cfg.MinVersion)
	}

	logger.Infof("Loaded configuration from %s (pipeline: %s, cache: %s, identity: %s)",
		path, cfg.GetPipelineName(), cfg.Cache.Type, cfg.Identity.Type)
	return cfg, nil
}

// buildAudiences classifies the records and merges the membership groups
// into the weekly advert audience.
func buildAudiences(cfg *config.Config, recordPaths []string) (audience.Sets, error) {
	recs, err := records.LoadFiles(recordPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant records: %w", err)
	}

	datasets, err := audience.DatasetsFromConfig(cfg.Datasets)
	if err != nil {
		return nil, fmt.Errorf("failed to load datasets: %w", err)
	}
	classifier, err := audience.NewClassifier(datasets, cfg.GetNonRelevantCodes())
	if err != nil {
		return nil, err
	}

	sets, err := classifier.Classify(recs)
	if err != nil {
		return nil, fmt.Errorf("failed to classify participant records: %w", err)
	}
	logger.Infof("Classified %d records: %d opted out, %d weekly advert",
		len(recs), sets[audience.OptOut].Len(), sets[audience.WeeklyAdvert].Len())

	if len(cfg.MembershipGroups) > 0 {
		files := make(map[string][]string, len(cfg.MembershipGroups))
		for _, g := range cfg.MembershipGroups {
			files[g.Name] = g.Files
		}
		groups, err := membership.LoadGroups(files)
		if err != nil {
			return nil, fmt.Errorf("failed to load membership groups: %w", err)
		}
		audience.MergeMembershipGroups(sets[audience.OptOut], groups, sets[audience.WeeklyAdvert])
	}

	return sets, nil
}

// buildJobs pairs every configured target with its audience
func buildJobs(cfg *config.Config, sets audience.Sets) ([]sync.Job, error) {
	jobs := []sync.Job{
		{Target: toTarget(cfg.Targets.ConsentWithdrawn), Desired: sets[audience.OptOut]},
		{Target: toTarget(cfg.Targets.WeeklyAdvert), Desired: sets[audience.WeeklyAdvert]},
	}
	for _, ds := range cfg.Datasets {
		if ds.NonRelevantTarget == nil {
			continue
		}
		desired, ok := sets[ds.NonRelevantTarget.Name]
		if !ok {
			return nil, fmt.Errorf("no audience computed for target %s", ds.NonRelevantTarget.Name)
		}
		jobs = append(jobs, sync.Job{Target: toTarget(*ds.NonRelevantTarget), Desired: desired})
	}
	return jobs, nil
}

func toTarget(tc config.TargetConfig) sync.Target {
	return sync.Target{Name: tc.Name, Kind: sync.Kind(tc.Kind), Value: tc.Value}
}

// newContactsService builds the RapidPro client from the contacts configuration
func newContactsService(cfg *config.ContactsConfig) (contacts.Service, error) {
	token, err := cfg.GetToken()
	if err != nil {
		return nil, err
	}
	client := httpclient.NewDefaultClient(cfg.GetTimeout(),
		httpclient.WithHeader("Authorization", "Token "+token),
		httpclient.WithMaxRetryElapsed(cfg.GetMaxRetryElapsed()),
	)
	return contacts.NewRapidProClient(cfg.Endpoint, client), nil
}

// newSyncMetrics sets up metric export. The returned shutdown flushes it.
func newSyncMetrics(ctx context.Context, cfg *config.Config) (*telemetry.SyncMetrics, func(context.Context), error) {
	opts := []telemetry.MeterProviderOption{
		telemetry.WithMeterServiceVersion(versions.GetVersionInfo().Version),
	}
	if t := cfg.Telemetry; t != nil {
		opts = append(opts,
			telemetry.WithMetricsEnabled(t.Enabled),
			telemetry.WithMeterEndpoint(t.Endpoint),
			telemetry.WithMeterInsecure(t.Insecure),
			telemetry.WithMeterServiceName(t.ServiceName),
		)
	}

	provider, err := telemetry.NewMeterProvider(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up metrics: %w", err)
	}
	metrics, err := telemetry.NewSyncMetrics(provider)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	shutdown := func(ctx context.Context) {
		if err := telemetry.Shutdown(ctx, provider); err != nil {
			logger.Warnf("Failed to flush metrics: %v", err)
		}
	}
	return metrics, shutdown, nil
}
