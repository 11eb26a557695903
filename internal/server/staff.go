package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/diego-ramazzini/muniagent/internal/agent"
	"github.com/diego-ramazzini/muniagent/internal/runtime"
	"github.com/diego-ramazzini/muniagent/internal/store"
)

// StaffStore is the persistence surface of the staff console.
type StaffStore interface {
	GetStaffByEmail(ctx context.Context, email string) (store.StaffUser, error)
	RecentFaqs(ctx context.Context, limit int) ([]store.FaqEntry, error)
	CreateFaq(ctx context.Context, question, answer string) (int64, error)
	DeleteFaq(ctx context.Context, id int64) error
	GetSessionByToken(ctx context.Context, token string) (store.Session, error)
	ExchangesBySession(ctx context.Context, sessionID int64, limit int) ([]store.Exchange, error)
	LowConfidenceExchanges(ctx context.Context, threshold float64, limit int) ([]store.Exchange, error)
}

// escalationLister is implemented by trackers that can enumerate their keys.
type escalationLister interface {
	Keys() []agent.ConversationKey
}

// StaffHandler serves the municipal employee console. Everything except
// login sits behind the JWT middleware.
type StaffHandler struct {
	Store     StaffStore
	Agent     Answerer
	Secret    []byte
	Threshold float64
}

func (h *StaffHandler) Register(g *echo.Group) {
	g.POST("/login", h.login)

	protected := g.Group("")
	protected.Use(runtime.EchoAuthMiddleware(h.Secret))
	protected.GET("/escalations", h.escalations)
	protected.POST("/escalations/clear", h.clearEscalation)
	protected.GET("/faqs", h.listFaqs)
	protected.POST("/faqs", h.createFaq)
	protected.DELETE("/faqs/:id", h.deleteFaq)
	protected.GET("/sessions/:token/exchanges", h.sessionExchanges)
	protected.GET("/low-confidence", h.lowConfidence)
}

func (h *StaffHandler) login(c echo.Context) error {
	var req StaffLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}
	user, err := h.Store.GetStaffByEmail(c.Request().Context(), req.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	signed, err := runtime.SignJWT(strconv.FormatInt(user.ID, 10), h.Secret, 24*time.Hour)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	cookie := new(http.Cookie)
	cookie.Name = "auth"
	cookie.Value = signed
	cookie.Path = "/"
	cookie.HttpOnly = true
	cookie.SameSite = http.SameSiteLaxMode
	if os.Getenv("MUNIAGENT_ENV") == "prod" {
		cookie.Secure = true
	}
	c.SetCookie(cookie)
	return c.JSON(http.StatusOK, TokenResponse{Token: signed})
}

// escalations lists conversations currently on hold for a human.
func (h *StaffHandler) escalations(c echo.Context) error {
	out := []EscalationView{}
	if h.Agent != nil {
		if lister, ok := h.Agent.Escalations().(escalationLister); ok {
			for _, key := range lister.Keys() {
				out = append(out, EscalationView{CitizenID: key.CitizenID, SessionToken: key.SessionToken})
			}
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *StaffHandler) clearEscalation(c echo.Context) error {
	var req ClearRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Token) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	if h.Agent == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "answer pipeline not initialized")
	}
	ctx := c.Request().Context()
	sess, err := h.Store.GetSessionByToken(ctx, req.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session token")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.Agent.Escalations().Clear(ctx, agent.ConversationKey{CitizenID: sess.CitizenID, SessionToken: req.Token})
	return c.NoContent(http.StatusOK)
}

func (h *StaffHandler) listFaqs(c echo.Context) error {
	faqs, err := h.Store.RecentFaqs(c.Request().Context(), 100)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]FaqResponse, 0, len(faqs))
	for _, f := range faqs {
		out = append(out, FaqResponse{ID: f.ID, Question: f.Question, Answer: f.Answer})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *StaffHandler) createFaq(c echo.Context) error {
	var req FaqRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Answer) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question and answer are required")
	}
	id, err := h.Store.CreateFaq(c.Request().Context(), req.Question, req.Answer)
	if err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return echo.NewHTTPError(http.StatusConflict, "faq already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, FaqResponse{ID: id, Question: req.Question, Answer: req.Answer})
}

func (h *StaffHandler) deleteFaq(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid faq id")
	}
	if err := h.Store.DeleteFaq(c.Request().Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "faq not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

// sessionExchanges returns one conversation's transcript, oldest first.
func (h *StaffHandler) sessionExchanges(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := h.Store.GetSessionByToken(ctx, c.Param("token"))
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session token")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	exchanges, err := h.Store.ExchangesBySession(ctx, sess.ID, 200)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, exchangeViews(exchanges))
}

// lowConfidence lists recent turns that scored under the escalation
// threshold, newest first.
func (h *StaffHandler) lowConfidence(c echo.Context) error {
	threshold := h.Threshold
	if threshold <= 0 {
		threshold = 0.6
	}
	exchanges, err := h.Store.LowConfidenceExchanges(c.Request().Context(), threshold, 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, exchangeViews(exchanges))
}

func exchangeViews(exchanges []store.Exchange) []ExchangeView {
	out := make([]ExchangeView, 0, len(exchanges))
	for _, e := range exchanges {
		out = append(out, ExchangeView{
			ID:         e.ID,
			SessionID:  e.SessionID,
			Question:   e.Question,
			Answer:     e.Answer,
			Confidence: e.Confidence,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}
