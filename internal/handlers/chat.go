package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quickdoc/docchat-web-ui/internal/models"
)

// systemInstruction is the fixed instruction sent with every completion request. The answer
// must come from the supplied file content alone.
const systemInstruction = "You are an AI assistant analyzing a file. " +
	"Provide helpful, accurate, and detailed answers based on the file content."

// completionTimeout bounds the external completion call so a hung provider cannot leave the
// session busy forever.
const completionTimeout = 60 * time.Second

const noResponseFallback = "No response received from the model. Please try again."

// HandleChats processes a user question through an HTTP POST request. The question is appended
// to the conversation immediately, before the completion call resolves, and the assistant's
// reply (or a recovered error notice) arrives later over SSE.
//
// A question is dispatched only when a document with extracted text is loaded and no other
// request is in flight for the session; violations answer with 400 and 409 respectively.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if strings.TrimSpace(msg) == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	sessionID := m.sessionID(w, r)

	doc, err := m.store.Document(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to get document", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if doc.Text == "" || doc.Processing {
		http.Error(w, "Upload a file before asking questions", http.StatusBadRequest)
		return
	}

	if !m.sessions.tryAcquire(sessionID) {
		http.Error(w, "A request is already in progress", http.StatusConflict)
		return
	}

	// The user message is appended before the completion call resolves, so the intermediate
	// state (question visible, answer pending) is observable.
	um := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   msg,
		Timestamp: time.Now(),
	}
	if _, err := m.store.AppendMessage(r.Context(), sessionID, um); err != nil {
		m.sessions.release(sessionID)
		m.logger.Error("Failed to add user message",
			slog.String("message", fmt.Sprintf("%+v", um)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	go m.chat(sessionID, doc, msg)

	html, err := m.renderMessage(um)
	if err != nil {
		m.logger.Error("Failed to render message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, html)
}

// chat drives one completion round: build the prompt from the document and question, call the
// provider with a bounded context, and append the reply. Failures are recovered into an
// assistant-role error notice so the conversation stays displayable, and the busy flag clears
// on every path.
func (m Main) chat(sessionID string, doc models.Document, question string) {
	defer m.sessions.release(sessionID)

	epoch := m.sessions.currentEpoch(sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
	defer cancel()

	text, err := m.llm.Complete(ctx, systemInstruction, buildUserTurn(doc, question))

	var content string
	switch {
	case err != nil:
		m.logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
		content = errorNotice(err)
	case strings.TrimSpace(text) == "":
		content = noResponseFallback
	default:
		content = text
	}

	// A reset while the call was in flight discards the reply; the conversation it belonged
	// to no longer exists.
	if !m.sessions.epochValid(sessionID, epoch) {
		m.logger.Debug("Completion discarded after reset")
		return
	}

	am := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	}
	if _, err := m.store.AppendMessage(context.Background(), sessionID, am); err != nil {
		m.logger.Error("Failed to add AI message",
			slog.String("message", fmt.Sprintf("%+v", am)),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	m.publishMessage(sessionID, am)
}

// buildUserTurn assembles the user-turn payload: file metadata, the full extracted text fenced
// verbatim, and the question.
func buildUserTurn(doc models.Document, question string) string {
	return fmt.Sprintf(`**File Information:**
- File Name: %s
- File Size: %.2f KB
- Total Lines: %d

**File Content:**
`+"```"+`
%s
`+"```"+`

**User Question:**
%s

**Instructions:**
- Answer based ONLY on the file content provided above
- Be specific and cite relevant parts of the file when possible
- If the answer is not in the file, clearly state that
- Format your response in a clear and readable way
- Use bullet points or numbered lists when appropriate`,
		doc.Name, float64(doc.Size)/1024, models.LineCount(doc.Text), doc.Text, question)
}

func errorNotice(err error) string {
	return fmt.Sprintf("❌ **Error:** Unable to process your request.\n\n"+
		"**Details:** %s\n\nPlease try again or check your API configuration.", err)
}

// HandleReset clears the conversation, the document state, and any in-flight work for the
// session. From the browser's point of view the session is indistinguishable from a fresh one.
func (m Main) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := m.sessionID(w, r)

	m.sessions.reset(sessionID)

	if err := m.store.Reset(r.Context(), sessionID); err != nil {
		m.logger.Error("Failed to reset session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.renderDocument(w, models.Document{})
}
