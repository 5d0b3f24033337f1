package startup

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/migrations"
)

// RunMigrations применяет встроенные .sql файлы по порядку имён. Скрипты идемпотентны.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	return runMigrations(ctx, pool, migrations.Files)
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool, files fs.FS) error {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
		logger.Debugf("migration %s applied", name)
	}
	logger.Infof("migrations applied: %d", len(names))
	return nil
}
