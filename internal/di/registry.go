package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgerlink/billing/internal/platform/config"
	pfirestore "github.com/ledgerlink/billing/internal/platform/firestore"
	"github.com/ledgerlink/billing/internal/repositories"
	firestorerepo "github.com/ledgerlink/billing/internal/repositories/firestore"
	"github.com/ledgerlink/billing/internal/repositories/fixture"
	"github.com/ledgerlink/billing/internal/repositories/sqlstore"
)

// Importer loads a fixture dataset into a writable store.
type Importer interface {
	Import(ctx context.Context, ds fixture.Dataset) error
}

// ErrSeedUnsupported is returned when the selected store is read-only.
var ErrSeedUnsupported = errors.New("store does not support dataset import")

var (
	_ Importer = (*firestorerepo.Store)(nil)
	_ Importer = (*sqlstore.Store)(nil)
)

// OpenRegistry opens the store selected by cfg.Store.Driver.
func OpenRegistry(ctx context.Context, cfg config.Config) (repositories.Registry, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverFirestore:
		store, err := firestorerepo.NewStore(pfirestore.NewProvider(cfg.Firestore))
		if err != nil {
			return nil, fmt.Errorf("open firestore store: %w", err)
		}
		return store, nil
	case config.StoreDriverPostgres, config.StoreDriverSQLite:
		dialect, err := sqlstore.ParseDialect(cfg.Store.Driver)
		if err != nil {
			return nil, err
		}
		store, err := sqlstore.Open(ctx, dialect, cfg.Store.DSN, sqlstore.WithMaxOpenConns(cfg.Store.MaxOpenConns))
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", dialect, err)
		}
		return store, nil
	case config.StoreDriverFixture:
		store, err := fixture.Open(cfg.Store.FixturePath)
		if err != nil {
			return nil, fmt.Errorf("open fixture store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// SeedRegistry imports the YAML dataset at path into reg.
func SeedRegistry(ctx context.Context, reg repositories.Registry, path string) (fixture.Dataset, error) {
	importer, ok := reg.(Importer)
	if !ok {
		return fixture.Dataset{}, ErrSeedUnsupported
	}
	ds, err := fixture.LoadFile(path)
	if err != nil {
		return fixture.Dataset{}, err
	}
	if err := importer.Import(ctx, ds); err != nil {
		return fixture.Dataset{}, fmt.Errorf("import %s: %w", path, err)
	}
	return ds, nil
}
