package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/quickdoc/docchat-web-ui/internal/extract"
	"github.com/quickdoc/docchat-web-ui/internal/models"
)

// processingText is the transient document text shown while OCR is still running. OCR on a
// large photo can take tens of seconds, so the UI needs something to display immediately.
const processingText = "Extracting text from the image... this can take up to 30 seconds for large photos."

// HandleUpload accepts a multipart file upload, validates it, extracts its text, and replaces
// the session's document state wholesale. On success the conversation is re-seeded with a
// single welcome message summarizing the file.
//
// Image uploads take the slow OCR path: the handler responds immediately with a transient
// "processing" document state and finishes the extraction in a goroutine, republishing the
// final text over SSE. A new upload while one is still extracting cancels and replaces it.
func (m Main) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := m.sessionID(w, r)

	// Bound the request body slightly above the largest acceptable file. An upload large enough
	// to trip the reader is rejected with the same size-limit class as the header check below.
	r.Body = http.MaxBytesReader(w, r.Body, extract.MaxImageFileSize+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			m.logger.Warn("Upload rejected", slog.String(errLoggerKey, err.Error()))
			http.Error(w, fmt.Sprintf("%v: the upload exceeds the %d MB limit",
				extract.ErrFileTooLarge, extract.MaxImageFileSize>>20), http.StatusRequestEntityTooLarge)
			return
		}
		m.logger.Error("File is required", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")

	// Validation happens before any byte of content is read, so rejected files never reach a
	// decoder.
	if err := m.extractor.Validate(header.Filename, mimeType, header.Size); err != nil {
		m.logger.Warn("Upload rejected",
			slog.String("filename", header.Filename),
			slog.Int64("size", header.Size),
			slog.String(errLoggerKey, err.Error()))

		status := http.StatusBadRequest
		if errors.Is(err, extract.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		m.logger.Error("Failed to read upload", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Failed to read upload", http.StatusInternalServerError)
		return
	}

	extractCtx, gen := m.sessions.replaceUpload(sessionID)

	doc := models.Document{
		Name:     header.Filename,
		Size:     header.Size,
		MimeType: mimeType,
	}

	if m.extractor.IsImage(header.Filename, mimeType) {
		doc.Text = processingText
		doc.Processing = true

		if err := m.store.SetDocument(r.Context(), sessionID, doc); err != nil {
			m.logger.Error("Failed to set document", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		go m.finishExtraction(extractCtx, sessionID, gen, doc, data)

		m.renderDocument(w, doc)
		return
	}

	doc.Text = m.extractor.Extract(extractCtx, data, header.Filename, mimeType)

	welcome, err := m.seedDocument(r.Context(), sessionID, doc)
	if err != nil {
		m.logger.Error("Failed to store upload", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.publishMessage(sessionID, welcome)
	m.renderDocument(w, doc)
}

// finishExtraction completes the OCR path for an image upload. Results are dropped when the
// upload has been superseded by a newer one or the session was reset.
func (m Main) finishExtraction(ctx context.Context, sessionID string, gen uint64, doc models.Document, data []byte) {
	doc.Text = m.extractor.Extract(ctx, data, doc.Name, doc.MimeType)
	doc.Processing = false

	if !m.sessions.uploadCurrent(sessionID, gen) {
		m.logger.Debug("Extraction superseded", slog.String("filename", doc.Name))
		return
	}

	welcome, err := m.seedDocument(context.Background(), sessionID, doc)
	if err != nil {
		m.logger.Error("Failed to store extraction", slog.String(errLoggerKey, err.Error()))
		return
	}

	m.publishDocument(sessionID, doc)
	m.publishMessage(sessionID, welcome)
}

// seedDocument replaces the document state and re-seeds the conversation with exactly one
// welcome message, the same sequence a fresh session sees after its first upload.
func (m Main) seedDocument(ctx context.Context, sessionID string, doc models.Document) (models.Message, error) {
	welcome := welcomeMessage(doc)
	if err := m.store.SetDocument(ctx, sessionID, doc); err != nil {
		return models.Message{}, fmt.Errorf("failed to set document: %w", err)
	}
	if err := m.store.SetMessages(ctx, sessionID, []models.Message{welcome}); err != nil {
		return models.Message{}, fmt.Errorf("failed to seed welcome message: %w", err)
	}
	return welcome, nil
}

func welcomeMessage(doc models.Document) models.Message {
	fileType := doc.MimeType
	if fileType == "" {
		fileType = "text file"
	}

	content := fmt.Sprintf("✅ File %q has been uploaded successfully!\n\n"+
		"📊 File Details:\n- Size: %s\n- Type: %s\n- Lines: %d\n\n"+
		"You can now ask me questions about this file! 🤖",
		doc.Name, models.FormatFileSize(doc.Size), fileType, models.LineCount(doc.Text))

	return models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func (m Main) renderDocument(w http.ResponseWriter, doc models.Document) {
	if err := m.templates.ExecuteTemplate(w, "file_preview", newDocumentView(doc)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
