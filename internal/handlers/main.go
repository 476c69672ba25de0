package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	docchatwebui "github.com/quickdoc/docchat-web-ui"
	"github.com/quickdoc/docchat-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// LLM represents a chat completion provider. It accepts a fixed system instruction and a single
// user turn carrying the document context and question, and returns the full response text.
type LLM interface {
	Complete(ctx context.Context, systemInstruction, userTurn string) (string, error)
}

// Store defines the interface for the per-session conversation and document state. The message
// sequence is append-only between resets; SetMessages and SetDocument replace their state
// wholesale.
type Store interface {
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	AppendMessage(ctx context.Context, sessionID string, message models.Message) (string, error)
	SetMessages(ctx context.Context, sessionID string, messages []models.Message) error

	Document(ctx context.Context, sessionID string) (models.Document, error)
	SetDocument(ctx context.Context, sessionID string, doc models.Document) error

	Reset(ctx context.Context, sessionID string) error
}

// Extractor turns uploaded bytes into display-ready text. Validate rejects a file before any
// bytes reach a decoder; Extract never fails, substituting placeholder text on decoder errors.
type Extractor interface {
	Validate(filename, mimeType string, size int64) error
	Extract(ctx context.Context, data []byte, filename, mimeType string) string
	IsImage(filename, mimeType string) bool
}

// Main handles the core functionality of the document chat application, managing server-sent
// events, HTML templates, and the interactions between the extractor, the LLM, and the Store.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	llm       LLM
	store     Store
	extractor Extractor
	sessions  *sessionGuard

	logger *slog.Logger
}

const (
	sessionCookieName = "session_id"

	errLoggerKey = "err"
)

// SSE event types for real-time updates.
var (
	messagesSSEType = sse.Type("messages")
	documentSSEType = sse.Type("document")
)

// NewMain creates a new Main instance with the provided LLM, Store, and Extractor
// implementations. It initializes the SSE server and parses the required HTML templates from
// the embedded filesystem. Each SSE client is subscribed to its own session topic, read from
// the session cookie.
func NewMain(llm LLM, store Store, extractor Extractor, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		docchatwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				if cookie, err := s.Req.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
					topics = append(topics, sessionTopic(cookie.Value))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		llm:       llm,
		store:     store,
		extractor: extractor,
		sessions:  newSessionGuard(),
		logger:    logger.With(slog.String("module", "handlers")),
	}, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// HandleSSE serves the event stream consumed by the browser for message appends and document
// state updates.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message
// to all connected clients and waits up to 5 seconds for connections to terminate. After the
// timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// sessionID returns the browser session identifier, creating the cookie on first contact.
func (m Main) sessionID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (m Main) publishMessage(sessionID string, msg models.Message) {
	html, err := m.renderMessage(msg)
	if err != nil {
		m.logger.Error("Failed to render message",
			slog.String("message", fmt.Sprintf("%+v", msg)),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	e := sse.Message{Type: messagesSSEType}
	e.AppendData(html)
	if err := m.sseSrv.Publish(&e, sessionTopic(sessionID)); err != nil {
		m.logger.Error("Failed to publish message", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) publishDocument(sessionID string, doc models.Document) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "file_preview", newDocumentView(doc)); err != nil {
		m.logger.Error("Failed to render document", slog.String(errLoggerKey, err.Error()))
		return
	}

	e := sse.Message{Type: documentSSEType}
	e.AppendData(sb.String())
	if err := m.sseSrv.Publish(&e, sessionTopic(sessionID)); err != nil {
		m.logger.Error("Failed to publish document", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) renderMessage(msg models.Message) (string, error) {
	name := "ai_message"
	if msg.Role == models.RoleUser {
		name = "user_message"
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, name, newMessageView(msg)); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return sb.String(), nil
}
