package server

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"

	"github.com/diego-ramazzini/muniagent/internal/agent"
	"github.com/diego-ramazzini/muniagent/internal/helpers"
	"github.com/diego-ramazzini/muniagent/internal/pdfx"
	"github.com/diego-ramazzini/muniagent/internal/store"
)

// Answerer is the agent surface the chat endpoints need.
type Answerer interface {
	Answer(ctx context.Context, key agent.ConversationKey, sessionID int64, question, supplement string, emit func(chunk string) error) (agent.Result, error)
	Escalations() agent.EscalationTracker
}

// SessionStore resolves citizens and session tokens.
type SessionStore interface {
	GetCitizenByEmail(ctx context.Context, email string) (store.Citizen, error)
	CreateCitizen(ctx context.Context, name, email, phone string) (int64, error)
	CreateSession(ctx context.Context, citizenID int64, token string) (int64, error)
	GetSessionByToken(ctx context.Context, token string) (store.Session, error)
}

// Uploads is the per-conversation document surface.
type Uploads interface {
	Attach(ctx context.Context, sessionToken, filename, text string) (int, error)
	Supplement(ctx context.Context, sessionToken, question string) string
}

// ChatHandler serves the citizen-facing endpoints.
type ChatHandler struct {
	Sessions  SessionStore
	Agent     Answerer
	Uploads   Uploads
	MaxFileMB int
	Logger    *log.Logger
}

func (h *ChatHandler) Register(e *echo.Echo) {
	e.POST("/login", h.login)
	e.POST("/chat", h.chat)
	e.POST("/clear", h.clear)
	e.POST("/upload", h.upload)
}

// login registers the citizen on first contact and issues a fresh session
// token on every call.
func (h *ChatHandler) login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}

	ctx := c.Request().Context()
	citizen, err := h.Sessions.GetCitizenByEmail(ctx, req.Email)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		name := strings.TrimSpace(req.Name)
		if name == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "name is required for registration")
		}
		id, createErr := h.Sessions.CreateCitizen(ctx, name, req.Email, strings.TrimSpace(req.Phone))
		if createErr != nil {
			if pgErr, ok := createErr.(*pq.Error); ok && pgErr.Code == "23505" {
				return echo.NewHTTPError(http.StatusConflict, "email already registered")
			}
			return echo.NewHTTPError(http.StatusInternalServerError, createErr.Error())
		}
		citizen = store.Citizen{ID: id, Email: req.Email}
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	token := uuid.NewString()
	if _, err := h.Sessions.CreateSession(ctx, citizen.ID, token); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, LoginResponse{CitizenID: citizen.ID, Token: token})
}

// chat answers one question as a chunked text stream. The connection stays
// plain text; each emitted chunk is flushed as soon as it decodes.
func (h *ChatHandler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.CitizenID == 0 || strings.TrimSpace(req.Token) == "" || strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "citizen_id, session_token and question are required")
	}
	if h.Agent == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "answer pipeline not initialized")
	}

	ctx := c.Request().Context()
	sess, err := h.resolveSession(ctx, req.CitizenID, req.Token)
	if err != nil {
		return err
	}

	supplement := ""
	if h.Uploads != nil {
		supplement = h.Uploads.Supplement(ctx, req.Token, req.Question)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	resp.WriteHeader(http.StatusOK)

	key := agent.ConversationKey{CitizenID: sess.CitizenID, SessionToken: req.Token}
	_, err = h.Agent.Answer(ctx, key, sess.ID, req.Question, supplement, func(chunk string) error {
		if _, werr := io.WriteString(resp, chunk); werr != nil {
			return werr
		}
		resp.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.Logger.Printf("chat stream ended early: %v", err)
	}
	return nil
}

// clear lifts the escalation hold on the caller's conversation.
func (h *ChatHandler) clear(c echo.Context) error {
	var req ClearRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.CitizenID == 0 || strings.TrimSpace(req.Token) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "citizen_id and session_token are required")
	}
	if h.Agent == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "answer pipeline not initialized")
	}
	ctx := c.Request().Context()
	sess, err := h.resolveSession(ctx, req.CitizenID, req.Token)
	if err != nil {
		return err
	}
	h.Agent.Escalations().Clear(ctx, agent.ConversationKey{CitizenID: sess.CitizenID, SessionToken: req.Token})
	return c.JSON(http.StatusOK, MessageResponse{Message: "Conversación restablecida, puede continuar con sus consultas."})
}

// resolveSession validates a session token and checks it belongs to the
// claimed citizen. A token issued to another citizen is rejected the same way
// an unknown token is.
func (h *ChatHandler) resolveSession(ctx context.Context, citizenID int64, token string) (store.Session, error) {
	sess, err := h.Sessions.GetSessionByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Session{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid session token")
	}
	if err != nil {
		return store.Session{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sess.CitizenID != citizenID {
		return store.Session{}, echo.NewHTTPError(http.StatusUnauthorized, "session does not belong to this citizen")
	}
	return sess, nil
}

// upload attaches a PDF to the caller's conversation. The extracted text is
// session-scoped supplementary context; it never enters the shared corpus.
func (h *ChatHandler) upload(c echo.Context) error {
	token := strings.TrimSpace(c.FormValue("token"))
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	if h.Uploads == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "uploads not initialized")
	}
	ctx := c.Request().Context()
	if _, err := h.Sessions.GetSessionByToken(ctx, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid session token")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	maxBytes := int64(h.MaxFileMB) << 20
	if maxBytes > 0 && fileHeader.Size > maxBytes {
		return echo.NewHTTPError(http.StatusBadRequest, "file too large")
	}
	f, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	text, err := pdfx.ExtractText(data)
	if errors.Is(err, pdfx.ErrUnsupportedFormat) || errors.Is(err, pdfx.ErrNoText) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read pdf")
	}

	chunks, err := h.Uploads.Attach(ctx, token, fileHeader.Filename, helpers.SanitizeText(text))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, UploadResponse{Filename: fileHeader.Filename, Chunks: chunks})
}
