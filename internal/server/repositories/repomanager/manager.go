package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/keepsake/internal/dbx"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/accesstokens"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/beneficiaries"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/invitations"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/keepsakes"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/notificationconfigs"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/notificationlogs"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/vaults"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// path works on *sql.DB and inside dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Vaults(db dbx.DBTX) vaults.Repository
	Beneficiaries(db dbx.DBTX) beneficiaries.Repository
	Keepsakes(db dbx.DBTX) keepsakes.Repository
	Invitations(db dbx.DBTX) invitations.Repository
	AccessTokens(db dbx.DBTX) accesstokens.Repository
	NotificationLogs(db dbx.DBTX) notificationlogs.Repository
	NotificationConfigs(db dbx.DBTX) notificationconfigs.Repository
}
