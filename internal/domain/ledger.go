package domain

import "time"

type PlanName string

// PlanFree is the plan new ledgers start on unless configured otherwise.
const PlanFree PlanName = "free"

// UnlimitedTokens is the monthly limit sentinel for plans without a cap.
const UnlimitedTokens int64 = -1

type Plan struct {
	Name         PlanName
	MonthlyLimit int64
}

func (p Plan) Unlimited() bool {
	return p.MonthlyLimit == UnlimitedTokens
}

// TokenLedger tracks a user's monthly token consumption. Usage is reset
// lazily when the calendar month of "now" differs from LastResetDate.
type TokenLedger struct {
	UserID        UserID
	Plan          PlanName
	TokenUsage    int64
	LastResetDate time.Time
}

// NeedsReset reports whether now falls in a different month/year than the last reset.
func (l TokenLedger) NeedsReset(now time.Time) bool {
	last := l.LastResetDate.UTC()
	current := now.UTC()
	return last.Year() != current.Year() || last.Month() != current.Month()
}

func (l *TokenLedger) Reset(now time.Time) {
	l.TokenUsage = 0
	l.LastResetDate = now
}

// Remaining returns the tokens left under limit, never below zero.
func (l TokenLedger) Remaining(limit int64) int64 {
	remaining := limit - l.TokenUsage
	if remaining < 0 {
		return 0
	}
	return remaining
}
