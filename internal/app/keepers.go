package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/resourcekit/internal/declare"
	"github.com/conduit-lang/resourcekit/internal/keeper/memory"
	"github.com/conduit-lang/resourcekit/internal/keeper/sqlkeeper"
	"github.com/conduit-lang/resourcekit/pkg/manager"
	"github.com/conduit-lang/resourcekit/pkg/resource"
)

// memoryKeepers builds one seeded in-memory keeper per declared resource
func memoryKeepers(file *declare.File, logger *zap.Logger) ([]resource.Keeper, error) {
	keepers := make([]resource.Keeper, 0, len(file.Resources))
	for _, r := range file.Resources {
		decl, err := r.Declaration()
		if err != nil {
			return nil, err
		}

		k := memory.New(decl, memory.Options{
			Policy: forbiddenPolicy(r.Forbidden),
			Logger: logger.With(zap.String("type", r.Type)),
		})
		for _, seed := range r.Seed {
			linkages, err := seed.Linkages()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", r.Type, err)
			}
			if err := k.Seed(seed.ID, seed.Attributes, linkages); err != nil {
				return nil, fmt.Errorf("%s: %w", r.Type, err)
			}
		}
		keepers = append(keepers, k)
	}
	return keepers, nil
}

// Verify builds the declared resources, seeds included, on memory storage
// and checks that the registry is consistent
func Verify(file *declare.File) error {
	keepers, err := memoryKeepers(file, zap.NewNop())
	if err != nil {
		return err
	}
	m := manager.New(manager.Options{})
	if err := m.Register(keepers...); err != nil {
		return err
	}
	return m.Init()
}

// forbiddenPolicy denies access to the listed ids
func forbiddenPolicy(forbidden map[string]string) memory.Policy {
	if len(forbidden) == 0 {
		return nil
	}
	return func(_ context.Context, id string, _ map[string]any) resource.Status {
		if reason, ok := forbidden[id]; ok {
			return resource.Forbidden(reason)
		}
		return resource.Exist()
	}
}

// sqlKeepers builds one table-backed keeper per declared resource, creating
// the tables and inserting seeds that are not stored yet.
func sqlKeepers(ctx context.Context, db *sql.DB, dialect sqlkeeper.Dialect, file *declare.File, logger *zap.Logger) ([]resource.Keeper, error) {
	keepers := make([]resource.Keeper, 0, len(file.Resources))
	for _, r := range file.Resources {
		decl, err := r.Declaration()
		if err != nil {
			return nil, err
		}
		if len(r.Forbidden) > 0 {
			logger.Warn("forbidden ids are only enforced by memory storage", zap.String("type", r.Type))
		}

		k, err := sqlkeeper.New(db, decl, sqlkeeper.Options{
			Table:   r.Table,
			Dialect: dialect,
			Logger:  logger.With(zap.String("type", r.Type)),
		})
		if err != nil {
			return nil, err
		}
		if err := k.CreateTable(ctx); err != nil {
			return nil, err
		}

		for _, seed := range r.Seed {
			linkages, err := seed.Linkages()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", r.Type, err)
			}
			_, err = k.Add(ctx, &resource.NewResource{
				Type:          r.Type,
				ID:            seed.ID,
				Attributes:    seed.Attributes,
				Relationships: linkages,
			})
			if err != nil && !sqlkeeper.IsUniqueViolation(err) {
				return nil, fmt.Errorf("failed to seed %s/%s: %w", r.Type, seed.ID, err)
			}
		}
		keepers = append(keepers, k)
	}
	return keepers, nil
}
