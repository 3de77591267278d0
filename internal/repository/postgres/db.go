package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/swarm-governor/internal/domain"
)

// Open пул соединений для зеркала журнала и решений по подписям. Доступность проверяется через Ping.
func Open(connString string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", domain.ErrStorage, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Migrate создаёт таблицы, если их нет
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, schema := range []string{AuditSchema, ApprovalSchema} {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("%w: migrate: %v", domain.ErrStorage, err)
		}
	}
	return nil
}
