package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bnema/whiteboard-tutor/internal/application"
	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/stream"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

// statusFor maps an application error to a status and a client-safe message.
func statusFor(err error) (int, string) {
	var quota *domain.QuotaExceededError
	switch {
	case errors.As(err, &quota):
		return http.StatusForbidden, quota.Error()
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusForbidden, domain.ErrQuotaExceeded.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrMissingCredential):
		return http.StatusInternalServerError, domain.ErrMissingCredential.Error()
	case errors.Is(err, domain.ErrRoomNotFound):
		return http.StatusNotFound, domain.ErrRoomNotFound.Error()
	case errors.Is(err, domain.ErrInvalidPhase), errors.Is(err, domain.ErrNoRoadmap):
		return http.StatusConflict, err.Error()
	case errors.Is(err, application.ErrSuperseded):
		return http.StatusConflict, application.ErrSuperseded.Error()
	case errors.Is(err, domain.ErrIndexOutOfRange):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrUpstreamGenerator):
		return http.StatusBadGateway, domain.ErrUpstreamGenerator.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("request_id", RequestIDFrom(r.Context())),
		slog.String("room_id", string(roomID(r))),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeError(w, status, message)
}

// streamNDJSON runs fn against an NDJSON sink. Errors raised before the first
// record still get a proper status; afterwards only the log sees them.
func (h *handler) streamNDJSON(w http.ResponseWriter, r *http.Request, fn func(stream.Sink) error) {
	out := stream.NewResponseWriter(w)
	err := fn(out)
	if err == nil {
		out.Start()
		return
	}

	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		h.logger.Debug("client went away", slog.String("request_id", RequestIDFrom(r.Context())))
		return
	}
	if !out.Started() {
		h.fail(w, r, err)
		return
	}

	h.logger.Warn("stream ended with error",
		slog.String("request_id", RequestIDFrom(r.Context())),
		slog.String("room_id", string(roomID(r))),
		slog.Int("records", out.Written()),
		slog.String("error", fmt.Sprint(err)),
	)
}
