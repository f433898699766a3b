// Package config provides configuration loading and validation for advert-sync.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by advert-sync.
const EnvPrefix = "ADVERT_SYNC"

const (
	// CacheTypeFile stores the sync cache as a directory of files
	CacheTypeFile = "file"

	// CacheTypeSQLite stores the sync cache in a local SQLite database
	CacheTypeSQLite = "sqlite"

	// CacheTypeDatabase stores the sync cache in PostgreSQL
	CacheTypeDatabase = "database"
)

const (
	// IdentityTypeDatastore resolves participant uuids through a Cloud Datastore table
	IdentityTypeDatastore = "datastore"

	// IdentityTypeFile resolves participant uuids through a local JSON lookup file
	IdentityTypeFile = "file"
)

const (
	// TargetKindField marks a target that is written as a contact field
	TargetKindField = "field"

	// TargetKindGroup marks a target that is written as a contact group
	TargetKindGroup = "group"
)

const (
	// DatasetTypeDemographic is a dataset describing participants
	DatasetTypeDemographic = "demographic"

	// DatasetTypeResearchQuestion is a dataset of answers to a research question
	DatasetTypeResearchQuestion = "research_question_answer"
)

const (
	// DefaultTargetValue is written to field targets when no value is configured
	DefaultTargetValue = "yes"

	// DefaultUUIDPrefix prefixes participant uuids minted by the identity tables
	DefaultUUIDPrefix = "avf-participant-uuid-"

	// DefaultContactsTimeout bounds a single request to the contact service
	DefaultContactsTimeout = 30 * time.Second

	// DefaultMaxRetryElapsed bounds how long rate-limited requests are retried
	DefaultMaxRetryElapsed = 5 * time.Minute
)

// DefaultNonRelevantCodes lists the code string values that mark a message as
// not being a real answer to the question that was asked.
var DefaultNonRelevantCodes = []string{
	"showtime_question",
	"greeting",
	"opt_in",
	"about_conversation",
	"gratitude",
	"question",
	"NC",
}

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// PipelineName identifies the analysis pipeline in logs and metrics
	PipelineName string `yaml:"pipelineName"`

	// MinVersion is the oldest advert-sync release allowed to run this pipeline
	MinVersion string `yaml:"minVersion,omitempty"`

	Cache    CacheConfig    `yaml:"cache"`
	Identity IdentityConfig `yaml:"identity"`
	Contacts ContactsConfig `yaml:"contacts"`
	Targets  TargetsConfig  `yaml:"targets"`

	// NonRelevantCodes overrides DefaultNonRelevantCodes when set
	NonRelevantCodes []string `yaml:"nonRelevantCodes,omitempty"`

	Datasets         []DatasetConfig         `yaml:"datasets"`
	MembershipGroups []MembershipGroupConfig `yaml:"membershipGroups,omitempty"`
	Telemetry        *TelemetryConfig        `yaml:"telemetry,omitempty"`

	// baseDir is the directory of the loaded file; relative paths resolve against it
	baseDir string
}

// CacheConfig selects and configures the sync cache backend
type CacheConfig struct {
	// Type is one of file, sqlite or database. Defaults to file.
	Type string `yaml:"type,omitempty"`

	// Dir is the cache directory used by the file backend
	Dir string `yaml:"dir,omitempty"`

	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
}

// SQLiteConfig configures the SQLite cache backend
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// IdentityConfig selects and configures the uuid table
type IdentityConfig struct {
	// Type is one of datastore or file
	Type string `yaml:"type"`

	Datastore *DatastoreConfig    `yaml:"datastore,omitempty"`
	File      *IdentityFileConfig `yaml:"file,omitempty"`
}

// DatastoreConfig configures the Cloud Datastore uuid table
type DatastoreConfig struct {
	ProjectID string `yaml:"projectID"`

	// Kind is the entity kind holding uuid to URN mappings
	Kind string `yaml:"kind"`

	UUIDPrefix string `yaml:"uuidPrefix,omitempty"`

	// CredentialsFile is a service account key; application default credentials are used when empty
	CredentialsFile string `yaml:"credentialsFile,omitempty"`
}

// IdentityFileConfig configures the JSON lookup file uuid table
type IdentityFileConfig struct {
	Path       string `yaml:"path"`
	UUIDPrefix string `yaml:"uuidPrefix,omitempty"`
}

// ContactsConfig configures the RapidPro workspace that audiences are written to
type ContactsConfig struct {
	// Endpoint is the workspace base URL, e.g. https://textit.com
	Endpoint string `yaml:"endpoint"`

	// TokenFile is the path to a file containing the API token
	TokenFile string `yaml:"tokenFile,omitempty"`

	// Timeout bounds a single request (e.g. "30s")
	Timeout string `yaml:"timeout,omitempty"`

	// MaxRetryElapsed bounds the total time spent retrying rate-limited requests
	MaxRetryElapsed string `yaml:"maxRetryElapsed,omitempty"`
}

// TargetConfig names a contact field or group an audience is written to
type TargetConfig struct {
	Name string `yaml:"name"`

	// Kind is field or group. Defaults to field.
	Kind string `yaml:"kind,omitempty"`

	// Value is written to field targets. Defaults to "yes".
	Value string `yaml:"value,omitempty"`
}

// TargetsConfig names the targets of the two built-in audiences
type TargetsConfig struct {
	ConsentWithdrawn TargetConfig `yaml:"consentWithdrawn"`
	WeeklyAdvert     TargetConfig `yaml:"weeklyAdvert"`
}

// DatasetConfig describes one analysis dataset
type DatasetConfig struct {
	Name string `yaml:"name"`

	// Type is demographic or research_question_answer
	Type string `yaml:"type"`

	RawDataset    string               `yaml:"rawDataset,omitempty"`
	CodingConfigs []CodingConfigConfig `yaml:"codingConfigs"`

	// NonRelevantTarget receives participants whose answers were all non-relevant.
	// Only valid for research_question_answer datasets.
	NonRelevantTarget *TargetConfig `yaml:"nonRelevantTarget,omitempty"`
}

// CodingConfigConfig binds an analysis dataset's labels to a code scheme file
type CodingConfigConfig struct {
	AnalysisDataset string `yaml:"analysisDataset"`
	CodeScheme      string `yaml:"codeScheme"`
}

// MembershipGroupConfig names a group of externally sourced participants
type MembershipGroupConfig struct {
	Name  string   `yaml:"name"`
	Files []string `yaml:"files"`
}

// TelemetryConfig configures OpenTelemetry metric export
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Dir(loaderCfg.path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates YAML configuration. Relative paths in the
// configuration are resolved against baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	config.baseDir = baseDir
	config.applyDefaults()
	config.resolvePaths()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// ResolvePath returns p unchanged when absolute, otherwise joined to the
// directory the configuration was loaded from.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// GetPipelineName returns the pipeline name, using "default" if not specified
func (c *Config) GetPipelineName() string {
	if c.PipelineName == "" {
		return "default"
	}
	return c.PipelineName
}

// GetNonRelevantCodes returns the configured vocabulary or the default one
func (c *Config) GetNonRelevantCodes() []string {
	if len(c.NonRelevantCodes) == 0 {
		return DefaultNonRelevantCodes
	}
	return c.NonRelevantCodes
}

// AllTargets returns every target declared by the configuration in
// declaration order: consent withdrawn, weekly advert, then non-relevant
// targets in dataset order.
func (c *Config) AllTargets() []TargetConfig {
	targets := []TargetConfig{c.Targets.ConsentWithdrawn, c.Targets.WeeklyAdvert}
	for _, ds := range c.Datasets {
		if ds.NonRelevantTarget != nil {
			targets = append(targets, *ds.NonRelevantTarget)
		}
	}
	return targets
}

func (c *Config) applyDefaults() {
	if c.Cache.Type == "" {
		c.Cache.Type = CacheTypeFile
	}
	defaultTarget(&c.Targets.ConsentWithdrawn)
	defaultTarget(&c.Targets.WeeklyAdvert)
	for i := range c.Datasets {
		if c.Datasets[i].NonRelevantTarget != nil {
			defaultTarget(c.Datasets[i].NonRelevantTarget)
		}
	}
	if c.Identity.Datastore != nil && c.Identity.Datastore.UUIDPrefix == "" {
		c.Identity.Datastore.UUIDPrefix = DefaultUUIDPrefix
	}
	if c.Identity.File != nil && c.Identity.File.UUIDPrefix == "" {
		c.Identity.File.UUIDPrefix = DefaultUUIDPrefix
	}
}

// resolvePaths rewrites every relative path to be relative to baseDir
func (c *Config) resolvePaths() {
	c.Cache.Dir = c.ResolvePath(c.Cache.Dir)
	if c.Cache.SQLite != nil {
		c.Cache.SQLite.Path = c.ResolvePath(c.Cache.SQLite.Path)
	}
	if c.Cache.Database != nil {
		c.Cache.Database.PasswordFile = c.ResolvePath(c.Cache.Database.PasswordFile)
	}
	if c.Identity.File != nil {
		c.Identity.File.Path = c.ResolvePath(c.Identity.File.Path)
	}
	if c.Identity.Datastore != nil {
		c.Identity.Datastore.CredentialsFile = c.ResolvePath(c.Identity.Datastore.CredentialsFile)
	}
	c.Contacts.TokenFile = c.ResolvePath(c.Contacts.TokenFile)
	for i := range c.Datasets {
		for j := range c.Datasets[i].CodingConfigs {
			cc := &c.Datasets[i].CodingConfigs[j]
			cc.CodeScheme = c.ResolvePath(cc.CodeScheme)
		}
	}
	for i := range c.MembershipGroups {
		for j, f := range c.MembershipGroups[i].Files {
			c.MembershipGroups[i].Files[j] = c.ResolvePath(f)
		}
	}
}

func defaultTarget(t *TargetConfig) {
	if t.Kind == "" {
		t.Kind = TargetKindField
	}
	if t.Value == "" && t.Kind == TargetKindField {
		t.Value = DefaultTargetValue
	}
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := c.Cache.validate(); err != nil {
		return err
	}
	if err := c.Identity.validate(); err != nil {
		return err
	}
	if err := c.Contacts.validate(); err != nil {
		return err
	}
	if err := validateTarget(c.Targets.ConsentWithdrawn, "targets.consentWithdrawn"); err != nil {
		return err
	}
	if err := validateTarget(c.Targets.WeeklyAdvert, "targets.weeklyAdvert"); err != nil {
		return err
	}

	datasetNames := make(map[string]bool)
	for i := range c.Datasets {
		ds := &c.Datasets[i]
		if ds.Name == "" {
			return fmt.Errorf("dataset[%d]: name is required", i)
		}
		if datasetNames[ds.Name] {
			return fmt.Errorf("dataset[%d]: duplicate dataset name '%s'", i, ds.Name)
		}
		datasetNames[ds.Name] = true

		if err := c.validateDataset(ds, i); err != nil {
			return err
		}
	}

	targetNames := make(map[string]bool)
	for _, t := range c.AllTargets() {
		if targetNames[t.Name] {
			return fmt.Errorf("duplicate target name '%s'", t.Name)
		}
		targetNames[t.Name] = true
	}

	groupNames := make(map[string]bool)
	for i, g := range c.MembershipGroups {
		if g.Name == "" {
			return fmt.Errorf("membershipGroups[%d]: name is required", i)
		}
		if groupNames[g.Name] {
			return fmt.Errorf("membershipGroups[%d]: duplicate group name '%s'", i, g.Name)
		}
		groupNames[g.Name] = true
		if len(g.Files) == 0 {
			return fmt.Errorf("membershipGroups[%d] (%s): at least one file is required", i, g.Name)
		}
	}

	if c.Telemetry != nil && c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}

	return nil
}

func (*Config) validateDataset(ds *DatasetConfig, index int) error {
	prefix := fmt.Sprintf("dataset[%d] (%s)", index, ds.Name)

	if err := validateName(ds.Name); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}

	switch ds.Type {
	case DatasetTypeDemographic:
		if ds.NonRelevantTarget != nil {
			return fmt.Errorf("%s: nonRelevantTarget is not allowed on a %s dataset", prefix, DatasetTypeDemographic)
		}
	case DatasetTypeResearchQuestion:
	default:
		return fmt.Errorf("%s: type must be %s or %s, got '%s'",
			prefix, DatasetTypeDemographic, DatasetTypeResearchQuestion, ds.Type)
	}

	if len(ds.CodingConfigs) == 0 {
		return fmt.Errorf("%s: at least one coding config is required", prefix)
	}
	for j, cc := range ds.CodingConfigs {
		if cc.AnalysisDataset == "" {
			return fmt.Errorf("%s: codingConfigs[%d].analysisDataset is required", prefix, j)
		}
		if cc.CodeScheme == "" {
			return fmt.Errorf("%s: codingConfigs[%d].codeScheme is required", prefix, j)
		}
		if _, err := os.Stat(cc.CodeScheme); err != nil {
			return fmt.Errorf("%s: codingConfigs[%d].codeScheme: %w", prefix, j, err)
		}
	}

	if ds.NonRelevantTarget != nil {
		if err := validateTarget(*ds.NonRelevantTarget, prefix+": nonRelevantTarget"); err != nil {
			return err
		}
	}
	return nil
}

func validateTarget(t TargetConfig, prefix string) error {
	if t.Name == "" {
		return fmt.Errorf("%s: name is required", prefix)
	}
	if err := validateName(t.Name); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	switch t.Kind {
	case TargetKindField, TargetKindGroup:
	default:
		return fmt.Errorf("%s: kind must be %s or %s, got '%s'", prefix, TargetKindField, TargetKindGroup, t.Kind)
	}
	if t.Kind == TargetKindGroup && t.Value != "" {
		return fmt.Errorf("%s: value is only valid for %s targets", prefix, TargetKindField)
	}
	return nil
}

// validateName rejects names that cannot be used as a cache file name
func validateName(name string) error {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("name '%s' must not contain path separators or '..'", name)
	}
	return nil
}

func (c *CacheConfig) validate() error {
	switch c.Type {
	case CacheTypeFile:
		if c.Dir == "" {
			return fmt.Errorf("cache.dir is required for %s cache", CacheTypeFile)
		}
	case CacheTypeSQLite:
		if c.SQLite == nil || c.SQLite.Path == "" {
			return fmt.Errorf("cache.sqlite.path is required for %s cache", CacheTypeSQLite)
		}
	case CacheTypeDatabase:
		if c.Database == nil {
			return fmt.Errorf("cache.database is required for %s cache", CacheTypeDatabase)
		}
		return c.Database.validate()
	default:
		return fmt.Errorf("cache.type must be one of %s, %s or %s, got '%s'",
			CacheTypeFile, CacheTypeSQLite, CacheTypeDatabase, c.Type)
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	if d.Host == "" {
		return fmt.Errorf("cache.database.host is required")
	}
	if d.Database == "" {
		return fmt.Errorf("cache.database.database is required")
	}
	if d.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(d.ConnMaxLifetime); err != nil {
			return fmt.Errorf("cache.database.connMaxLifetime must be a valid duration: %w", err)
		}
	}
	return nil
}

func (c *IdentityConfig) validate() error {
	switch c.Type {
	case IdentityTypeDatastore:
		if c.Datastore == nil || c.Datastore.ProjectID == "" || c.Datastore.Kind == "" {
			return fmt.Errorf("identity.datastore.projectID and identity.datastore.kind are required")
		}
	case IdentityTypeFile:
		if c.File == nil || c.File.Path == "" {
			return fmt.Errorf("identity.file.path is required")
		}
	default:
		return fmt.Errorf("identity.type must be %s or %s, got '%s'", IdentityTypeDatastore, IdentityTypeFile, c.Type)
	}
	return nil
}

func (c *ContactsConfig) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("contacts.endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("contacts.endpoint must be an absolute URL, got '%s'", c.Endpoint)
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("contacts.timeout must be a valid duration: %w", err)
		}
	}
	if c.MaxRetryElapsed != "" {
		if _, err := time.ParseDuration(c.MaxRetryElapsed); err != nil {
			return fmt.Errorf("contacts.maxRetryElapsed must be a valid duration: %w", err)
		}
	}
	return nil
}

// GetTimeout returns the per-request timeout
func (c *ContactsConfig) GetTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	return DefaultContactsTimeout
}

// GetMaxRetryElapsed returns the total retry budget for rate-limited requests
func (c *ContactsConfig) GetMaxRetryElapsed() time.Duration {
	if d, err := time.ParseDuration(c.MaxRetryElapsed); err == nil && d > 0 {
		return d
	}
	return DefaultMaxRetryElapsed
}

// GetToken returns the contact service API token using the following priority:
// 1. Read from TokenFile if specified
// 2. Read from ADVERT_SYNC_CONTACTS_TOKEN environment variable
func (c *ContactsConfig) GetToken() (string, error) {
	if c.TokenFile != "" {
		data, err := os.ReadFile(filepath.Clean(c.TokenFile))
		if err != nil {
			return "", fmt.Errorf("failed to read token from file %s: %w", c.TokenFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if token := os.Getenv(EnvPrefix + "_CONTACTS_TOKEN"); token != "" {
		return token, nil
	}

	return "", fmt.Errorf(
		"no contacts token configured: set tokenFile or %s_CONTACTS_TOKEN environment variable", EnvPrefix,
	)
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from ADVERT_SYNC_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(EnvPrefix + "_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s_DATABASE_PASSWORD environment variable", EnvPrefix,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	port := d.Port
	if port == 0 {
		port = 5432
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		port,
		d.Database,
		sslMode,
	), nil
}
