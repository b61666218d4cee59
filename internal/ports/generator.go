package ports

import (
	"context"
	"encoding/json"
	"io"

	"github.com/bnema/whiteboard-tutor/internal/domain"
)

type GenerateRequest struct {
	SystemInstruction string
	History           []domain.Message
	// Tools is an optional JSON tool schema forwarded as-is.
	Tools json.RawMessage
	// JSONOutput asks the model for a single JSON document in text records.
	JSONOutput bool
}

// Generator is the language-model call. The returned body is a
// newline-delimited JSON stream of text and tool_call records; the caller
// must close it.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (io.ReadCloser, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.UserID, error)
}
