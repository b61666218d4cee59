package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionNotFound = errors.New("session state not found")
	ErrLedgerNotFound  = errors.New("token ledger not found")
	ErrPlanNotFound    = errors.New("plan not found")
	ErrSecretNotFound  = errors.New("secret not found")

	ErrUnauthorized      = errors.New("unauthorized")
	ErrQuotaExceeded     = errors.New("monthly token quota exceeded")
	ErrUpstreamGenerator = errors.New("upstream generator failure")
	ErrMissingCredential = errors.New("generator credential is not configured")

	ErrDecode                 = errors.New("malformed stream record")
	ErrUnknownOperationTarget = errors.New("operation references unknown node")
	ErrRoadmapParse           = errors.New("roadmap response could not be parsed")
	ErrEvaluationParse        = errors.New("evaluation response could not be parsed")

	ErrInvalidPhase    = errors.New("operation not allowed in current phase")
	ErrNoRoadmap       = errors.New("session has no roadmap")
	ErrIndexOutOfRange = errors.New("unit or section index out of range")
)

// QuotaExceededError reports how many tokens were left when a request was refused.
type QuotaExceededError struct {
	Requested int64
	Remaining int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: requested %d, remaining %d", ErrQuotaExceeded, e.Requested, e.Remaining)
}

func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}
