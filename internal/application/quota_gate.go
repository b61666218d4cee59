package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
)

// QuotaDecision is the answer to a pre-flight quota check. Remaining is only
// meaningful when Unlimited is false.
type QuotaDecision struct {
	Allowed   bool
	Remaining int64
	Unlimited bool
	Usage     int64
	Limit     int64
}

// QuotaGate enforces the monthly token limit of each user's plan.
type QuotaGate struct {
	ledgers     ports.LedgerRepository
	plans       ports.PlanCatalog
	clock       ports.Clock
	logger      *slog.Logger
	defaultPlan domain.PlanName

	mu sync.Mutex
}

func NewQuotaGate(ledgers ports.LedgerRepository, plans ports.PlanCatalog, defaultPlan domain.PlanName, clock ports.Clock, logger *slog.Logger) *QuotaGate {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &QuotaGate{
		ledgers:     ledgers,
		plans:       plans,
		clock:       clock,
		logger:      logger,
		defaultPlan: defaultPlan,
	}
}

// CanConsume reports whether userID may spend amount tokens. A month rollover
// resets the ledger and persists the reset before answering.
func (g *QuotaGate) CanConsume(ctx context.Context, userID domain.UserID, amount int64) (QuotaDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ledger, err := g.loadLedger(ctx, userID)
	if err != nil {
		return QuotaDecision{}, err
	}

	return g.decide(ledger, amount)
}

// Consume re-checks the quota and records amount. It never partially consumes.
func (g *QuotaGate) Consume(ctx context.Context, userID domain.UserID, amount int64) (QuotaDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ledger, err := g.loadLedger(ctx, userID)
	if err != nil {
		return QuotaDecision{}, err
	}

	decision, err := g.decide(ledger, amount)
	if err != nil {
		return QuotaDecision{}, err
	}
	if !decision.Allowed {
		return decision, &domain.QuotaExceededError{Requested: amount, Remaining: decision.Remaining}
	}

	ledger.TokenUsage += amount
	if err := g.ledgers.Save(ctx, ledger); err != nil {
		return QuotaDecision{}, fmt.Errorf("save token ledger: %w", err)
	}

	decision.Usage = ledger.TokenUsage
	if !decision.Unlimited {
		decision.Remaining = ledger.Remaining(decision.Limit)
	}
	return decision, nil
}

// Ledger returns the user's ledger after any pending monthly reset.
func (g *QuotaGate) Ledger(ctx context.Context, userID domain.UserID) (domain.TokenLedger, domain.Plan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ledger, err := g.loadLedger(ctx, userID)
	if err != nil {
		return domain.TokenLedger{}, domain.Plan{}, err
	}

	plan, err := g.plans.Plan(ledger.Plan)
	if err != nil {
		return domain.TokenLedger{}, domain.Plan{}, fmt.Errorf("resolve plan %q: %w", ledger.Plan, err)
	}
	return ledger, plan, nil
}

// SetPlan moves userID to plan without touching the current usage.
func (g *QuotaGate) SetPlan(ctx context.Context, userID domain.UserID, plan domain.PlanName) error {
	if _, err := g.plans.Plan(plan); err != nil {
		return fmt.Errorf("resolve plan %q: %w", plan, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ledger, err := g.loadLedger(ctx, userID)
	if err != nil {
		return err
	}

	ledger.Plan = plan
	if err := g.ledgers.Save(ctx, ledger); err != nil {
		return fmt.Errorf("save token ledger: %w", err)
	}
	return nil
}

func (g *QuotaGate) loadLedger(ctx context.Context, userID domain.UserID) (domain.TokenLedger, error) {
	now := g.clock.Now()

	ledger, err := g.ledgers.GetByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrLedgerNotFound) {
			return domain.TokenLedger{}, fmt.Errorf("get token ledger: %w", err)
		}
		ledger = domain.TokenLedger{UserID: userID, Plan: g.defaultPlan, LastResetDate: now}
		if err := g.ledgers.Save(ctx, ledger); err != nil {
			return domain.TokenLedger{}, fmt.Errorf("provision token ledger: %w", err)
		}
		return ledger, nil
	}

	if ledger.Plan == "" {
		ledger.Plan = g.defaultPlan
	}

	if ledger.NeedsReset(now) {
		ledger.Reset(now)
		if err := g.ledgers.Save(ctx, ledger); err != nil {
			return domain.TokenLedger{}, fmt.Errorf("save monthly reset: %w", err)
		}
		g.logger.Info("token ledger reset",
			slog.String("user_id", string(userID)),
			slog.String("plan", string(ledger.Plan)),
		)
	}

	return ledger, nil
}

func (g *QuotaGate) decide(ledger domain.TokenLedger, amount int64) (QuotaDecision, error) {
	plan, err := g.plans.Plan(ledger.Plan)
	if err != nil {
		return QuotaDecision{}, fmt.Errorf("resolve plan %q: %w", ledger.Plan, err)
	}

	if plan.Unlimited() {
		return QuotaDecision{Allowed: true, Unlimited: true, Usage: ledger.TokenUsage, Limit: plan.MonthlyLimit}, nil
	}

	remaining := ledger.Remaining(plan.MonthlyLimit)
	return QuotaDecision{
		Allowed:   remaining >= amount,
		Remaining: remaining,
		Usage:     ledger.TokenUsage,
		Limit:     plan.MonthlyLimit,
	}, nil
}

// StaticPlanCatalog resolves plans from a fixed name -> monthly limit table.
type StaticPlanCatalog map[domain.PlanName]int64

func (c StaticPlanCatalog) Plan(name domain.PlanName) (domain.Plan, error) {
	limit, ok := c[name]
	if !ok {
		return domain.Plan{}, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, name)
	}
	return domain.Plan{Name: name, MonthlyLimit: limit}, nil
}
