package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quickdoc/docchat-web-ui/internal/extract"
	"github.com/quickdoc/docchat-web-ui/internal/handlers"
	"github.com/quickdoc/docchat-web-ui/internal/models"
)

type mockLLM struct {
	mu       sync.Mutex
	response string
	err      error

	systemInstructions []string
	userTurns          []string

	block chan struct{}
}

func (m *mockLLM) Complete(_ context.Context, systemInstruction, userTurn string) (string, error) {
	m.mu.Lock()
	m.systemInstructions = append(m.systemInstructions, systemInstruction)
	m.userTurns = append(m.userTurns, userTurn)
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func (m *mockLLM) lastUserTurn() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.userTurns) == 0 {
		return ""
	}
	return m.userTurns[len(m.userTurns)-1]
}

type mockStore struct {
	mu        sync.Mutex
	messages  map[string][]models.Message
	documents map[string]models.Document
	err       error
}

func newMockStore() *mockStore {
	return &mockStore{
		messages:  map[string][]models.Message{},
		documents: map[string]models.Document{},
	}
}

func (m *mockStore) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.messages[sessionID]...), m.err
}

func (m *mockStore) AppendMessage(_ context.Context, sessionID string, msg models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return msg.ID, nil
}

func (m *mockStore) SetMessages(_ context.Context, sessionID string, msgs []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[sessionID] = append([]models.Message(nil), msgs...)
	return m.err
}

func (m *mockStore) Document(_ context.Context, sessionID string) (models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.documents[sessionID], m.err
}

func (m *mockStore) SetDocument(_ context.Context, sessionID string, doc models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[sessionID] = doc
	return m.err
}

func (m *mockStore) Reset(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, sessionID)
	delete(m.documents, sessionID)
	return m.err
}

// mockExtractor records extraction calls so tests can assert that rejected uploads never reach
// a decoder. It delegates validation to the real rules.
type mockExtractor struct {
	mu      sync.Mutex
	calls   int
	result  string
	isImage bool

	svc extract.Service
}

func newMockExtractor(result string, isImage bool) *mockExtractor {
	return &mockExtractor{
		result:  result,
		isImage: isImage,
		svc:     extract.New("eng", slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

func (m *mockExtractor) Validate(filename, mimeType string, size int64) error {
	return m.svc.Validate(filename, mimeType, size)
}

func (m *mockExtractor) Extract(_ context.Context, data []byte, _, _ string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.result != "" {
		return m.result
	}
	return string(data)
}

func (m *mockExtractor) IsImage(string, string) bool {
	return m.isImage
}

func (m *mockExtractor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMain(t *testing.T, llm handlers.LLM, store handlers.Store, extractor handlers.Extractor) handlers.Main {
	t.Helper()
	m, err := handlers.NewMain(llm, store, extractor, testLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	return m
}

const testSessionID = "test-session"

func withSession(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: "session_id", Value: testSessionID})
	return req
}

func multipartBody(t *testing.T, filename, mimeType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(map[string][]string)
	h["Content-Disposition"] = []string{
		fmt.Sprintf(`form-data; name="file"; filename=%q`, filename),
	}
	if mimeType != "" {
		h["Content-Type"] = []string{mimeType}
	}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	return &buf, w.FormDataContentType()
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewMain(t *testing.T) {
	main := newTestMain(t, &mockLLM{}, newMockStore(), newMockExtractor("", false))

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	store := newMockStore()
	store.messages[testSessionID] = []models.Message{
		{ID: "1", Role: models.RoleUser, Content: "Hello there", Timestamp: time.Now()},
	}
	store.documents[testSessionID] = models.Document{
		Name: "report.txt", Size: 42, Text: "Revenue: $500",
	}

	main := newTestMain(t, &mockLLM{}, store, newMockExtractor("", false))

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "Fresh session",
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   []string{"No file uploaded"},
		},
		{
			name:       "Session with state",
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   []string{"Hello there", "report.txt"},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if i == 1 {
				req = withSession(req)
			}
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleHome() body does not contain %q", want)
				}
			}
		})
	}
}

func TestHandleUploadRejections(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		mimeType   string
		content    []byte
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Unsupported extension",
			filename:   "tool.exe",
			mimeType:   "application/octet-stream",
			content:    []byte("MZ"),
			wantStatus: http.StatusBadRequest,
			wantBody:   "unsupported file type",
		},
		{
			name:       "Oversized non-image",
			filename:   "big.txt",
			mimeType:   "text/plain",
			content:    bytes.Repeat([]byte("a"), 11<<20),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantBody:   "file too large",
		},
		{
			// Large enough to trip the request body reader before the multipart form parses.
			name:       "Oversized image",
			filename:   "huge.png",
			mimeType:   "image/png",
			content:    bytes.Repeat([]byte("a"), 20<<20),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantBody:   "file too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			extractor := newMockExtractor("", false)
			main := newTestMain(t, &mockLLM{}, store, extractor)

			body, contentType := multipartBody(t, tt.filename, tt.mimeType, tt.content)
			req := withSession(httptest.NewRequest(http.MethodPost, "/upload", body))
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()

			main.HandleUpload(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleUpload() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleUpload() body = %q, want it to contain %q", w.Body.String(), tt.wantBody)
			}
			if extractor.callCount() != 0 {
				t.Error("HandleUpload() reached the extractor for a rejected file")
			}
			if len(store.messages[testSessionID]) != 0 {
				t.Error("HandleUpload() changed state for a rejected file")
			}
		})
	}
}

func TestHandleUploadText(t *testing.T) {
	store := newMockStore()
	extractor := newMockExtractor("", false)
	main := newTestMain(t, &mockLLM{}, store, extractor)

	content := "Revenue: $500\nExpenses: $200"
	body, contentType := multipartBody(t, "report.txt", "text/plain", []byte(content))
	req := withSession(httptest.NewRequest(http.MethodPost, "/upload", body))
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	main.HandleUpload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HandleUpload() status = %v, body = %s", w.Code, w.Body.String())
	}

	doc := store.documents[testSessionID]
	if doc.Text != content {
		t.Errorf("document text = %q, want the extracted content", doc.Text)
	}
	if doc.Name != "report.txt" {
		t.Errorf("document name = %q", doc.Name)
	}

	msgs := store.messages[testSessionID]
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want exactly one welcome message", len(msgs))
	}
	if msgs[0].Role != models.RoleAssistant {
		t.Errorf("welcome message role = %q, want assistant", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Content, "report.txt") {
		t.Errorf("welcome message %q does not mention the file name", msgs[0].Content)
	}
}

func TestHandleUploadImage(t *testing.T) {
	store := newMockStore()
	extractor := newMockExtractor("Recognized text", true)
	main := newTestMain(t, &mockLLM{}, store, extractor)

	body, contentType := multipartBody(t, "scan.png", "image/png", []byte("fake image bytes"))
	req := withSession(httptest.NewRequest(http.MethodPost, "/upload", body))
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	main.HandleUpload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HandleUpload() status = %v", w.Code)
	}

	// The transient processing state is rendered in the immediate response.
	if !strings.Contains(w.Body.String(), "Extracting text") {
		t.Errorf("HandleUpload() response lacks the processing placeholder: %s", w.Body.String())
	}

	// The final OCR text and the welcome message land asynchronously.
	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return !store.documents[testSessionID].Processing &&
			store.documents[testSessionID].Text == "Recognized text"
	})
	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.messages[testSessionID]) == 1
	})
}

func TestHandleChats(t *testing.T) {
	postChat := func(main handlers.Main, msg string) *httptest.ResponseRecorder {
		form := strings.NewReader(url.Values{"message": {msg}}.Encode())
		req := withSession(httptest.NewRequest(http.MethodPost, "/chats", form))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		main.HandleChats(w, req)
		return w
	}

	t.Run("Invalid method", func(t *testing.T) {
		main := newTestMain(t, &mockLLM{}, newMockStore(), newMockExtractor("", false))
		req := withSession(httptest.NewRequest(http.MethodGet, "/chats", nil))
		w := httptest.NewRecorder()
		main.HandleChats(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %v, want %v", w.Code, http.StatusMethodNotAllowed)
		}
	})

	t.Run("Blank message", func(t *testing.T) {
		main := newTestMain(t, &mockLLM{}, newMockStore(), newMockExtractor("", false))
		if w := postChat(main, "   "); w.Code != http.StatusBadRequest {
			t.Errorf("status = %v, want %v", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("No document", func(t *testing.T) {
		main := newTestMain(t, &mockLLM{}, newMockStore(), newMockExtractor("", false))
		if w := postChat(main, "hello"); w.Code != http.StatusBadRequest {
			t.Errorf("status = %v, want %v", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("Successful round trip", func(t *testing.T) {
		llm := &mockLLM{response: "$500"}
		store := newMockStore()
		store.documents[testSessionID] = models.Document{
			Name: "report.txt", Size: 13, Text: "Revenue: $500",
		}
		main := newTestMain(t, llm, store, newMockExtractor("", false))

		if w := postChat(main, "What is the revenue?"); w.Code != http.StatusOK {
			t.Fatalf("status = %v, body = %s", w.Code, w.Body.String())
		}

		waitFor(t, func() bool {
			msgs, _ := store.Messages(context.Background(), testSessionID)
			return len(msgs) == 2
		})

		msgs, _ := store.Messages(context.Background(), testSessionID)
		if msgs[0].Role != models.RoleUser || msgs[0].Content != "What is the revenue?" {
			t.Errorf("first message = %+v, want the verbatim user question", msgs[0])
		}
		if msgs[1].Role != models.RoleAssistant || msgs[1].Content != "$500" {
			t.Errorf("second message = %+v, want the verbatim assistant reply", msgs[1])
		}

		turn := llm.lastUserTurn()
		if !strings.Contains(turn, "Revenue: $500") {
			t.Error("outgoing request lacks the document text")
		}
		if !strings.Contains(turn, "What is the revenue?") {
			t.Error("outgoing request lacks the question")
		}

		// Busy must be clear again: a follow-up question goes through.
		if w := postChat(main, "And the expenses?"); w.Code != http.StatusOK {
			t.Errorf("follow-up status = %v, want %v", w.Code, http.StatusOK)
		}
	})

	t.Run("Provider failure is recovered", func(t *testing.T) {
		llm := &mockLLM{err: errors.New("connection refused")}
		store := newMockStore()
		store.documents[testSessionID] = models.Document{Name: "a.txt", Size: 1, Text: "x"}
		main := newTestMain(t, llm, store, newMockExtractor("", false))

		if w := postChat(main, "anything"); w.Code != http.StatusOK {
			t.Fatalf("status = %v", w.Code)
		}

		waitFor(t, func() bool {
			msgs, _ := store.Messages(context.Background(), testSessionID)
			return len(msgs) == 2
		})

		msgs, _ := store.Messages(context.Background(), testSessionID)
		last := msgs[len(msgs)-1]
		if last.Role != models.RoleAssistant {
			t.Errorf("error notice role = %q, want assistant", last.Role)
		}
		if !strings.Contains(last.Content, "Error") {
			t.Errorf("error notice %q lacks a failure marker", last.Content)
		}
		if !strings.Contains(last.Content, "connection refused") {
			t.Errorf("error notice %q lacks the underlying detail", last.Content)
		}

		// Busy cleared on the failure path too.
		if w := postChat(main, "again"); w.Code != http.StatusOK {
			t.Errorf("follow-up status = %v, want %v", w.Code, http.StatusOK)
		}
	})

	t.Run("Busy session rejects a second question", func(t *testing.T) {
		llm := &mockLLM{response: "slow", block: make(chan struct{})}
		store := newMockStore()
		store.documents[testSessionID] = models.Document{Name: "a.txt", Size: 1, Text: "x"}
		main := newTestMain(t, llm, store, newMockExtractor("", false))

		if w := postChat(main, "first"); w.Code != http.StatusOK {
			t.Fatalf("status = %v", w.Code)
		}
		if w := postChat(main, "second"); w.Code != http.StatusConflict {
			t.Errorf("second question status = %v, want %v", w.Code, http.StatusConflict)
		}

		close(llm.block)
		waitFor(t, func() bool {
			msgs, _ := store.Messages(context.Background(), testSessionID)
			return len(msgs) == 2
		})
	})
}

func TestHandleResetThenUpload(t *testing.T) {
	store := newMockStore()
	extractor := newMockExtractor("", false)
	main := newTestMain(t, &mockLLM{response: "ok"}, store, extractor)

	upload := func() {
		body, contentType := multipartBody(t, "report.txt", "text/plain", []byte("Revenue: $500"))
		req := withSession(httptest.NewRequest(http.MethodPost, "/upload", body))
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		main.HandleUpload(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("upload status = %v", w.Code)
		}
	}

	upload()
	firstWelcome := store.messages[testSessionID][0].Content

	req := withSession(httptest.NewRequest(http.MethodPost, "/reset", nil))
	w := httptest.NewRecorder()
	main.HandleReset(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %v", w.Code)
	}

	if len(store.messages[testSessionID]) != 0 {
		t.Error("reset left messages behind")
	}
	if !store.documents[testSessionID].Empty() {
		t.Error("reset left a document behind")
	}

	// A fresh upload reproduces the exact single-message welcome sequence.
	upload()
	msgs := store.messages[testSessionID]
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after re-upload, want 1", len(msgs))
	}
	if msgs[0].Content != firstWelcome {
		t.Errorf("welcome after reset = %q, want %q", msgs[0].Content, firstWelcome)
	}
}
