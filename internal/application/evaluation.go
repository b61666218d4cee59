package application

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bnema/whiteboard-tutor/internal/domain"
)

type Evaluation struct {
	IsCorrect bool   `json:"isCorrect"`
	Feedback  string `json:"feedback"`
}

// ParseEvaluation decodes a grading response. On failure it still returns the
// lenient default, a correct grade, next to an ErrEvaluationParse error.
func ParseEvaluation(text string) (Evaluation, error) {
	var payload struct {
		IsCorrect *bool  `json:"isCorrect"`
		Feedback  string `json:"feedback"`
	}

	lenient := Evaluation{IsCorrect: true}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &payload); err != nil {
		return lenient, fmt.Errorf("%w: %w", domain.ErrEvaluationParse, err)
	}
	if payload.IsCorrect == nil {
		lenient.Feedback = strings.TrimSpace(payload.Feedback)
		return lenient, fmt.Errorf("%w: missing isCorrect", domain.ErrEvaluationParse)
	}

	return Evaluation{IsCorrect: *payload.IsCorrect, Feedback: strings.TrimSpace(payload.Feedback)}, nil
}
