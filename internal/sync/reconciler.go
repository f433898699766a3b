package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/engagement-analysis/advert-sync/internal/cache"
	"github.com/engagement-analysis/advert-sync/internal/contacts"
	"github.com/engagement-analysis/advert-sync/internal/identity"
	"github.com/engagement-analysis/advert-sync/internal/logger"
	"github.com/engagement-analysis/advert-sync/internal/telemetry"
)

// Reconciler brings contact service targets in line with audience sets
type Reconciler interface {
	// Reconcile reconciles jobs in order and stops at the first failing
	// target. The reports of every target visited are returned, including
	// the failed one.
	Reconcile(ctx context.Context, jobs []Job) ([]TargetReport, error)

	// ReconcileTarget reconciles a single target. The report is never nil.
	ReconcileTarget(ctx context.Context, job Job) (*TargetReport, error)
}

// Option configures a Reconciler
type Option func(*defaultReconciler)

// WithDryRun makes the reconciler stop after computing each delta
func WithDryRun(dryRun bool) Option {
	return func(r *defaultReconciler) {
		r.dryRun = dryRun
	}
}

// WithMetrics records per-target metrics. Nil metrics are ignored.
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(r *defaultReconciler) {
		r.metrics = m
	}
}

type defaultReconciler struct {
	cache    cache.Cache
	resolver identity.Resolver
	contacts contacts.Service
	metrics  *telemetry.SyncMetrics
	dryRun   bool

	// workspace fields, listed once and shared by every field target
	fields       []contacts.Field
	fieldsListed bool
}

// NewReconciler creates a Reconciler backed by the given cache, resolver and contact service
func NewReconciler(c cache.Cache, resolver identity.Resolver, svc contacts.Service, opts ...Option) Reconciler {
	r := &defaultReconciler{
		cache:    c,
		resolver: resolver,
		contacts: svc,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile reconciles every job in order
func (r *defaultReconciler) Reconcile(ctx context.Context, jobs []Job) ([]TargetReport, error) {
	reports := make([]TargetReport, 0, len(jobs))
	for _, job := range jobs {
		report, err := r.ReconcileTarget(ctx, job)
		reports = append(reports, *report)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// ReconcileTarget reconciles one target
func (r *defaultReconciler) ReconcileTarget(ctx context.Context, job Job) (*TargetReport, error) {
	start := time.Now()
	name := job.Target.Name
	report := &TargetReport{
		Target:  job.Target,
		Phase:   PhasePending,
		Desired: job.Desired.Len(),
	}
	defer func() {
		report.Duration = time.Since(start)
		r.metrics.RecordTargetDuration(ctx, name, string(report.Phase), report.Duration)
	}()

	synced, err := r.cache.GetSynced(ctx, name)
	if err != nil {
		return r.fail(report, fmt.Errorf("failed to read synced uuids: %w", err))
	}

	toSync := job.Desired.Difference(synced)
	report.Phase = PhaseDiffed
	report.PreviouslySynced = len(synced)
	report.ToSync = len(toSync)
	r.metrics.RecordTargetCounts(ctx, name, report.Desired, report.PreviouslySynced, report.ToSync)

	logger.Infof("Target %s: %d desired, %d previously synced, %d to sync",
		name, report.Desired, report.PreviouslySynced, report.ToSync)

	if len(toSync) == 0 {
		report.Phase = PhaseSkipped
		logger.Infof("Target %s is up to date, skipping", name)
		return report, nil
	}

	if r.dryRun {
		logger.Infof("Dry run: would sync %d contacts to %s %s", report.ToSync, job.Target.Kind, name)
		return report, nil
	}

	handles, err := r.resolver.ResolveBatch(ctx, toSync)
	if err != nil {
		return r.fail(report, fmt.Errorf("failed to resolve uuids: %w", err))
	}

	report.Phase = PhaseApplying
	apply, err := r.prepare(ctx, job.Target)
	if err != nil {
		return r.fail(report, err)
	}

	byHandle := uuidsByHandle(handles)
	for _, handle := range sortedHandles(handles) {
		if err := ctx.Err(); err != nil {
			return r.fail(report, err)
		}

		if err := apply(ctx, handle); err != nil {
			return r.fail(report, err)
		}
		r.metrics.RecordMutation(ctx, name, string(job.Target.Kind))

		uuid, err := r.resolver.Reverse(ctx, handle)
		if err != nil {
			return r.fail(report, fmt.Errorf("failed to reverse-resolve a mutated contact: %w", err))
		}

		// Every uuid of the contact is synced by this one mutation.
		synced := byHandle[handle]
		if len(synced) > 1 {
			logger.Warnf("Target %s: %d uuids share one contact: %v", name, len(synced), synced)
		}
		for _, u := range withFirst(uuid, synced) {
			if err := r.cache.AppendSynced(ctx, name, u); err != nil {
				return r.fail(report, fmt.Errorf("failed to record synced uuid %s: %w", u, err))
			}
			report.NewlySynced++
		}
	}

	report.Phase = PhaseDone
	logger.Infof("Target %s: synced %d new contacts", name, report.NewlySynced)
	return report, nil
}

func (*defaultReconciler) fail(report *TargetReport, err error) (*TargetReport, error) {
	targetErr := &TargetError{Target: report.Target.Name, Phase: report.Phase, Err: err}
	report.Phase = PhaseFailed
	report.Err = targetErr
	logger.Errorf("Target %s failed after %d new contacts: %v", report.Target.Name, report.NewlySynced, err)
	return report, targetErr
}

// mutateFunc applies a target to one contact
type mutateFunc func(ctx context.Context, handle string) error

// prepare makes sure the target exists and returns the mutation for its kind
func (r *defaultReconciler) prepare(ctx context.Context, target Target) (mutateFunc, error) {
	switch target.Kind {
	case KindField:
		key, err := r.ensureField(ctx, target.Name)
		if err != nil {
			return nil, err
		}
		update := contacts.ContactUpdate{Fields: map[string]string{key: target.FieldValue()}}
		return func(ctx context.Context, handle string) error {
			if err := r.contacts.UpdateContact(ctx, handle, update); err != nil {
				return fmt.Errorf("failed to set field %s on contact: %w", key, err)
			}
			return nil
		}, nil

	case KindGroup:
		group, err := r.ensureGroup(ctx, target.Name)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, handle string) error {
			return r.addToGroup(ctx, handle, group)
		}, nil

	default:
		return nil, fmt.Errorf("unsupported target kind %q", target.Kind)
	}
}

func (r *defaultReconciler) ensureField(ctx context.Context, label string) (string, error) {
	if !r.fieldsListed {
		fields, err := r.contacts.ListFields(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list contact fields: %w", err)
		}
		r.fields = fields
		r.fieldsListed = true
	}

	if f := contacts.FindFieldByLabel(r.fields, label); f != nil {
		return f.Key, nil
	}

	logger.Infof("Creating contact field with label %s", label)
	created, err := r.contacts.CreateField(ctx, label)
	if err != nil {
		return "", fmt.Errorf("failed to create contact field %s: %w", label, err)
	}
	r.fields = append(r.fields, *created)
	return created.Key, nil
}

func (r *defaultReconciler) ensureGroup(ctx context.Context, name string) (*contacts.Group, error) {
	groups, err := r.contacts.ListGroups(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact groups: %w", err)
	}
	for i := range groups {
		if groups[i].Name == name {
			return &groups[i], nil
		}
	}

	logger.Infof("Creating contact group %s", name)
	created, err := r.contacts.CreateGroup(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create contact group %s: %w", name, err)
	}
	return created, nil
}

// addToGroup adds the contact to group, keeping its existing groups
func (r *defaultReconciler) addToGroup(ctx context.Context, handle string, group *contacts.Group) error {
	contact, err := r.contacts.GetContact(ctx, handle)
	if err != nil {
		return fmt.Errorf("failed to fetch contact: %w", err)
	}
	if contact.HasGroup(group.UUID) {
		logger.Debugf("Contact %s is already in group %s", contact.UUID, group.Name)
		return nil
	}

	update := contacts.ContactUpdate{Groups: append(contact.GroupUUIDs(), group.UUID)}
	if err := r.contacts.UpdateContact(ctx, handle, update); err != nil {
		return fmt.Errorf("failed to add contact to group %s: %w", group.Name, err)
	}
	return nil
}

// uuidsByHandle inverts a resolution. The uuids of each handle are sorted.
func uuidsByHandle(resolved map[string]string) map[string][]string {
	out := make(map[string][]string, len(resolved))
	for uuid, handle := range resolved {
		out[handle] = append(out[handle], uuid)
	}
	for _, uuids := range out {
		sort.Strings(uuids)
	}
	return out
}

// withFirst returns first followed by the other members of rest
func withFirst(first string, rest []string) []string {
	out := make([]string, 0, len(rest)+1)
	out = append(out, first)
	for _, u := range rest {
		if u != first {
			out = append(out, u)
		}
	}
	return out
}

// sortedHandles returns the distinct handles of a resolution in sorted order
func sortedHandles(resolved map[string]string) []string {
	seen := make(map[string]struct{}, len(resolved))
	out := make([]string, 0, len(resolved))
	for _, handle := range resolved {
		if _, ok := seen[handle]; ok {
			continue
		}
		seen[handle] = struct{}{}
		out = append(out, handle)
	}
	sort.Strings(out)
	return out
}
