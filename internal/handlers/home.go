package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/quickdoc/docchat-web-ui/internal/models"
)

// previewMaxLines caps the document preview panel; the full text still goes to the model.
const previewMaxLines = 500

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time
}

type documentView struct {
	Loaded     bool
	Processing bool

	Name      string
	SizeLabel string
	MimeType  string
	LineCount int
	Preview   string
	Truncated bool
}

type homePageData struct {
	Document documentView
	Messages []message
}

func newMessageView(msg models.Message) message {
	return message{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Content:   models.RenderMarkdown(msg.Content),
		Timestamp: msg.Timestamp,
	}
}

func newDocumentView(doc models.Document) documentView {
	if doc.Empty() {
		return documentView{}
	}

	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = "text file"
	}

	return documentView{
		Loaded:     true,
		Processing: doc.Processing,
		Name:       doc.Name,
		SizeLabel:  models.FormatFileSize(doc.Size),
		MimeType:   mimeType,
		LineCount:  models.LineCount(doc.Text),
		Preview:    models.TruncateLines(doc.Text, previewMaxLines),
		Truncated:  models.LineCount(doc.Text) > previewMaxLines,
	}
}

// HandleHome renders the single page of the application: the upload panel, the document
// preview, and the conversation, all scoped to the browser session.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	sessionID := m.sessionID(w, r)

	messages, err := m.store.Messages(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to get messages", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	doc, err := m.store.Document(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to get document", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	msgs := make([]message, len(messages))
	for i := range messages {
		msgs[i] = newMessageView(messages[i])
	}

	data := homePageData{
		Document: newDocumentView(doc),
		Messages: msgs,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
