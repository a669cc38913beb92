package web

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"

	"rag_assistant/internal/chat"
	"rag_assistant/internal/metrics"
)

const (
	sessionCookie = "rag_session"

	DefaultSessionTTL  = 30 * time.Minute
	DefaultMaxSessions = 1000
)

var appStart = time.Now()

// Server is the browser chat front end. A visitor gets an in-memory session
// keyed by a cookie on their first question; nothing is persisted. Sessions
// idle for longer than the TTL are dropped, and the oldest one is evicted
// when the cap is reached.
type Server struct {
	e        *echo.Echo
	answerer chat.Answerer
	md       goldmark.Markdown
	log      *slog.Logger

	ttl         time.Duration
	maxSessions int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	session  *chat.Session
	lastUsed time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithSessionTTL sets how long an idle session is kept.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithMaxSessions caps the number of live sessions.
func WithMaxSessions(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// New builds the server and registers its routes.
func New(answerer chat.Answerer, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		e:           echo.New(),
		answerer:    answerer,
		md:          goldmark.New(),
		log:         log,
		ttl:         DefaultSessionTTL,
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
		sessions:    make(map[string]*sessionEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.e.HideBanner = true
	s.e.HidePort = true

	s.e.Use(echoMiddleware.Recover())
	s.e.Use(s.observe)

	s.e.GET("/", s.index)
	s.e.POST("/ask", s.ask)
	s.e.POST("/api/ask", s.apiAsk)
	s.e.GET("/healthz", s.health)
	s.e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.e.Start(addr) }()
	go s.sweepLoop(ctx)
	s.log.Info("web server started", "addr", addr, "session_ttl", s.ttl, "max_sessions", s.maxSessions)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("web server stopping")
		return s.e.Shutdown(shutdownCtx)
	}
}

func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		status := c.Response().Status
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
		s.log.Debug("http request", "method", c.Request().Method, "path", path, "status", status, "duration", time.Since(start))
		return nil
	}
}

// lookup returns the visitor's live session, or nil when the cookie is
// missing, unknown or expired.
func (s *Server) lookup(c echo.Context) *chat.Session {
	ck, err := c.Cookie(sessionCookie)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[ck.Value]
	if !ok {
		return nil
	}
	now := s.now()
	if now.Sub(entry.lastUsed) > s.ttl {
		delete(s.sessions, ck.Value)
		metrics.ActiveSessions.Set(float64(len(s.sessions)))
		return nil
	}
	entry.lastUsed = now
	return entry.session
}

// create starts a session for the visitor and sets its cookie.
func (s *Server) create(c echo.Context) *chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	if len(s.sessions) >= s.maxSessions {
		s.evictOldestLocked()
	}

	id := uuid.NewString()
	sess := chat.NewSession(s.answerer)
	s.sessions[id] = &sessionEntry{session: sess, lastUsed: s.now()}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))

	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.sweepLocked()
			s.mu.Unlock()
		}
	}
}

func (s *Server) sweepLocked() {
	now := s.now()
	removed := 0
	for id, entry := range s.sessions {
		if now.Sub(entry.lastUsed) > s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.log.Debug("idle sessions removed", "removed", removed, "left", len(s.sessions))
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
}

func (s *Server) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, entry := range s.sessions {
		if oldestID == "" || entry.lastUsed.Before(oldest) {
			oldestID, oldest = id, entry.lastUsed
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
		s.log.Debug("session cap reached, oldest evicted", "max", s.maxSessions)
	}
}

type messageView struct {
	User bool
	Text string
	HTML template.HTML
}

func (s *Server) index(c echo.Context) error {
	// Без сессии показываем только приветствие, сессия не создается
	sess := s.lookup(c)
	if sess == nil {
		sess = chat.NewSession(s.answerer)
	}

	var views []messageView
	for _, m := range sess.Messages() {
		if m.Role == chat.User {
			views = append(views, messageView{User: true, Text: m.Content})
			continue
		}
		views = append(views, messageView{HTML: s.render(m.Content)})
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, map[string]any{"Messages": views}); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func (s *Server) ask(c echo.Context) error {
	question := c.FormValue("question")
	sess := s.lookup(c)
	if sess == nil {
		if strings.TrimSpace(question) == "" {
			return c.Redirect(http.StatusSeeOther, "/")
		}
		sess = s.create(c)
	}
	if _, ok := sess.Submit(c.Request().Context(), question); !ok {
		s.log.Debug("blank question ignored")
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer string `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) apiAsk(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, askResponse{Error: "invalid json: " + err.Error()})
	}
	q := strings.TrimSpace(req.Question)
	if q == "" {
		return c.JSON(http.StatusBadRequest, askResponse{Error: "question is required"})
	}
	answer, err := s.answerer.Answer(c.Request().Context(), q)
	if err != nil {
		s.log.Warn("answer failed", "error", err)
		return c.JSON(http.StatusBadGateway, askResponse{Error: chat.ErrorText(err)})
	}
	return c.JSON(http.StatusOK, askResponse{Answer: answer})
}

func (s *Server) health(c echo.Context) error {
	s.mu.Lock()
	n := len(s.sessions)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{
		"status":     map[string]any{"ok": true},
		"uptime_sec": int(time.Since(appStart).Seconds()),
		"sessions":   n,
		"time":       time.Now().Format(time.RFC3339),
	})
}

// render converts an answer from markdown. Raw HTML in the answer is not
// passed through.
func (s *Server) render(text string) template.HTML {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String())
}
