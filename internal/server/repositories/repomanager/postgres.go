// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/keepsake/internal/dbx"
	"github.com/dmitrijs2005/keepsake/internal/server/migrations"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/accesstokens"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/beneficiaries"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/invitations"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/keepsakes"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/notificationconfigs"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/notificationlogs"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/vaults"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Vaults(db dbx.DBTX) vaults.Repository {
	return vaults.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Beneficiaries(db dbx.DBTX) beneficiaries.Repository {
	return beneficiaries.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Keepsakes(db dbx.DBTX) keepsakes.Repository {
	return keepsakes.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Invitations(db dbx.DBTX) invitations.Repository {
	return invitations.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) AccessTokens(db dbx.DBTX) accesstokens.Repository {
	return accesstokens.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) NotificationLogs(db dbx.DBTX) notificationlogs.Repository {
	return notificationlogs.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) NotificationConfigs(db dbx.DBTX) notificationconfigs.Repository {
	return notificationconfigs.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}
