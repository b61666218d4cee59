package ports

import (
	"context"

	"github.com/bnema/whiteboard-tutor/internal/domain"
)

type LedgerRepository interface {
	GetByUserID(ctx context.Context, id domain.UserID) (domain.TokenLedger, error)
	Save(ctx context.Context, ledger domain.TokenLedger) error
}

type PlanCatalog interface {
	Plan(name domain.PlanName) (domain.Plan, error)
}
