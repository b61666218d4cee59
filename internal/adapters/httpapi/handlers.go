package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bnema/whiteboard-tutor/internal/adapters/auth"
	"github.com/bnema/whiteboard-tutor/internal/application"
	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/stream"
)

const (
	stateCookie    = "tutor_oauth_state"
	verifierCookie = "tutor_oauth_verifier"
	loginCookieAge = 600
)

func roomID(r *http.Request) domain.RoomID {
	return domain.RoomID(strings.TrimSpace(chi.URLParam(r, "roomID")))
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

// health handles GET /health
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.deps.Health != nil {
		if err := h.deps.Health.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Store = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Store = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

// login handles GET /auth/login
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	redirect, err := auth.StartLogin(h.deps.Login)
	if err != nil {
		if errors.Is(err, auth.ErrLoginNotConfigured) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.fail(w, r, err)
		return
	}

	secure := r.TLS != nil
	for name, value := range map[string]string{stateCookie: redirect.State, verifierCookie: redirect.Verifier} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/auth",
			MaxAge:   loginCookieAge,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

// quota handles GET /quota
func (h *handler) quota(w http.ResponseWriter, r *http.Request) {
	status, err := h.deps.Queries.Quota(r.Context(), UserFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// board handles GET /rooms/{roomID}/board
func (h *handler) board(w http.ResponseWriter, r *http.Request) {
	board, err := h.deps.Queries.Board(r.Context(), UserFrom(r.Context()), roomID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// messages handles GET /rooms/{roomID}/messages
func (h *handler) messages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.deps.Queries.Messages(r.Context(), UserFrom(r.Context()), roomID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type chatRequest struct {
	MessageID string        `json:"messageId"`
	Text      string        `json:"text"`
	Files     []domain.Part `json:"files"`
}

// chat handles POST /rooms/{roomID}/chat
func (h *handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	files := make([]domain.Part, 0, len(req.Files))
	for _, file := range req.Files {
		if file.FileURI == "" {
			continue
		}
		files = append(files, domain.Part{FileURI: file.FileURI, MimeType: file.MimeType})
	}
	if strings.TrimSpace(req.Text) == "" && len(files) == 0 {
		writeError(w, http.StatusBadRequest, "text or files is required")
		return
	}

	cmd := application.ChatCommand{
		UserID:    UserFrom(r.Context()),
		RoomID:    roomID(r),
		MessageID: messageID(req.MessageID),
		Text:      req.Text,
		Files:     files,
	}
	h.streamNDJSON(w, r, func(sink stream.Sink) error {
		return h.deps.Chat.Stream(r.Context(), cmd, sink)
	})
}

// sessionState handles GET /rooms/{roomID}/session
func (h *handler) sessionState(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Sessions.State(r.Context(), UserFrom(r.Context()), roomID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type sessionMessageRequest struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// sessionMessage handles POST /rooms/{roomID}/session/messages
func (h *handler) sessionMessage(w http.ResponseWriter, r *http.Request) {
	var req sessionMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	cmd := application.InboundMessageCommand{
		UserID:    UserFrom(r.Context()),
		RoomID:    roomID(r),
		MessageID: messageID(req.MessageID),
		Text:      req.Text,
	}
	h.streamNDJSON(w, r, func(sink stream.Sink) error {
		_, err := h.deps.Sessions.HandleMessage(r.Context(), cmd, sink)
		return err
	})
}

type advanceRequest struct {
	IsCorrect *bool `json:"isCorrect"`
}

// advance handles POST /rooms/{roomID}/session/advance
func (h *handler) advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.IsCorrect == nil {
		writeError(w, http.StatusBadRequest, "isCorrect is required")
		return
	}

	cmd := application.AdvanceCommand{
		UserID:    UserFrom(r.Context()),
		RoomID:    roomID(r),
		IsCorrect: *req.IsCorrect,
	}
	h.streamNDJSON(w, r, func(sink stream.Sink) error {
		_, err := h.deps.Sessions.Advance(r.Context(), cmd, sink)
		return err
	})
}

// rewind handles POST /rooms/{roomID}/session/rewind
func (h *handler) rewind(w http.ResponseWriter, r *http.Request) {
	state, err := h.deps.Sessions.Rewind(r.Context(), UserFrom(r.Context()), roomID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type evaluateRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// evaluate handles POST /rooms/{roomID}/session/evaluate
func (h *handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		writeError(w, http.StatusBadRequest, "answer is required")
		return
	}

	evaluation, err := h.deps.Sessions.Evaluate(r.Context(), application.EvaluateCommand{
		UserID:   UserFrom(r.Context()),
		RoomID:   roomID(r),
		Question: req.Question,
		Answer:   req.Answer,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluation)
}

// toggleImportance handles POST /rooms/{roomID}/session/importance
func (h *handler) toggleImportance(w http.ResponseWriter, r *http.Request) {
	var position domain.Position
	if err := decodeJSON(r, &position); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	state, err := h.deps.Sessions.ToggleImportance(r.Context(), application.ToggleImportanceCommand{
		UserID:   UserFrom(r.Context()),
		RoomID:   roomID(r),
		Position: position,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// replaceRoadmap handles PUT /rooms/{roomID}/session/roadmap
func (h *handler) replaceRoadmap(w http.ResponseWriter, r *http.Request) {
	var roadmap domain.Roadmap
	if err := decodeJSON(r, &roadmap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(roadmap.Units) == 0 {
		writeError(w, http.StatusBadRequest, "roadmap needs at least one unit")
		return
	}

	state, err := h.deps.Sessions.ReplaceRoadmap(r.Context(), application.ReplaceRoadmapCommand{
		UserID:  UserFrom(r.Context()),
		RoomID:  roomID(r),
		Roadmap: roadmap,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func messageID(raw string) domain.MessageID {
	if raw = strings.TrimSpace(raw); raw != "" {
		return domain.MessageID(raw)
	}
	return domain.MessageID(uuid.NewString())
}
