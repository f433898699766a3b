package identity

import (
	"context"
	"fmt"

	"github.com/engagement-analysis/advert-sync/internal/config"
)

// New opens the uuid table selected by cfg
func New(ctx context.Context, cfg *config.IdentityConfig) (Table, error) {
	switch cfg.Type {
	case config.IdentityTypeDatastore:
		ds := cfg.Datastore
		return NewDatastoreTable(ctx, ds.ProjectID, ds.Kind, ds.UUIDPrefix, ds.CredentialsFile)
	case config.IdentityTypeFile:
		return OpenFileTable(cfg.File.Path, cfg.File.UUIDPrefix)
	default:
		return nil, fmt.Errorf("unsupported identity type: %s", cfg.Type)
	}
}
