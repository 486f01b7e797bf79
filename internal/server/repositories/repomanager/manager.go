package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/timecapsule/internal/dbx"
	"github.com/dmitrijs2005/timecapsule/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/timecapsule/internal/server/repositories/capsules"
	"github.com/dmitrijs2005/timecapsule/internal/server/repositories/ledger"
)

// RepositoryManager vends repositories bound to a DBTX, so a service can run
// several of them inside one transaction by handing them the same tx handle.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	Capsules(db dbx.DBTX) capsules.Repository
	Ledger(db dbx.DBTX) ledger.Repository
}
