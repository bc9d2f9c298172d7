package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solverai/companion/internal/llm"
	"github.com/solverai/companion/internal/rag"
	"github.com/solverai/companion/internal/repository"
	"github.com/solverai/companion/internal/service"
)

type staticEmbedder struct{}

func (staticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

func (staticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

// buildTestRouter wires the full stack over temp-backed storage with
// the given generation mode: mock when mock is true, otherwise an
// unreachable primary with no fallback.
func buildTestRouter(t *testing.T, mock bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	retriever, err := rag.NewRetriever(
		rag.NewChunker(1000, 0),
		staticEmbedder{},
		filepath.Join(t.TempDir(), "vector_db"),
		zap.NewNop(),
	)
	require.NoError(t, err)

	deadSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadSrv.Close()
	orchestrator := llm.NewOrchestrator(
		llm.NewOllamaClient(llm.OllamaConfig{BaseURL: deadSrv.URL}),
		nil,
		mock,
		zap.NewNop(),
	)

	chatService := service.NewChatService(
		repository.NewConversationRepository(db), retriever, orchestrator, true, 3, zap.NewNop())
	ingestService := service.NewIngestService(
		repository.NewDocumentRepository(db), retriever, t.TempDir(), zap.NewNop())

	return SetupRouter(chatService, ingestService, orchestrator, RouterConfig{
		AllowOrigins: []string{"*"},
	})
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return buildTestRouter(t, true)
}

// closeNotifyRecorder adds the http.CloseNotifier method gin's
// c.Stream requires, which *httptest.ResponseRecorder lacks.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(closeNotifyRecorder{w}, req)
	return w
}

func uploadFile(t *testing.T, r *gin.Engine, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRootEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "AI Companion API is running")
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "running", body.Services["api"])
	assert.Equal(t, "unavailable", body.Services["ollama"])
	assert.Equal(t, "none", body.Services["fallback"])
}

func TestChatEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/chat", gin.H{"message": "hello"})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Response       string `json:"response"`
		ConversationID string `json:"conversation_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, llm.MockResponse, body.Response)
	assert.NotEmpty(t, body.ConversationID)
}

func TestChatEndpointRequiresMessage(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/chat", gin.H{"stream": false})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatEndpointStreaming(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/chat", gin.H{"message": "hello", "stream": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	body := w.Body.String()
	assert.Contains(t, body, "event: content")
	assert.Contains(t, body, "event: done")
	// The done event closes the stream.
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "}"))
}

func TestChatEndpointStreamingFailureStaysSSE(t *testing.T) {
	// Unreachable primary and no fallback: the stream cannot start, but
	// the response is already committed as an event stream.
	r := buildTestRouter(t, false)

	w := doJSON(t, r, http.MethodPost, "/chat", gin.H{"message": "hello", "stream": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	body := w.Body.String()
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, "no LLM provider available")
	assert.NotContains(t, body, `{"error"`)
}

func TestConversationEndpoints(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/chat", gin.H{"message": "start a conversation"})
	require.Equal(t, http.StatusOK, w.Code)
	var chatResp struct {
		ConversationID string `json:"conversation_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chatResp))

	w = doJSON(t, r, http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), chatResp.ConversationID)

	w = doJSON(t, r, http.MethodGet, "/conversations/"+chatResp.ConversationID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Title    string            `json:"title"`
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "start a conversation", detail.Title)
	assert.Len(t, detail.Messages, 2)

	w = doJSON(t, r, http.MethodDelete, "/conversations/"+chatResp.ConversationID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/conversations/"+chatResp.ConversationID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadAndDocumentLifecycle(t *testing.T) {
	r := newTestRouter(t)

	w := uploadFile(t, r, "notes.txt", "the quick brown fox")
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		ChunkCount int    `json:"chunk_count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "ready", doc.Status)
	assert.Equal(t, 1, doc.ChunkCount)

	w = doJSON(t, r, http.MethodGet, "/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), doc.ID)

	w = doJSON(t, r, http.MethodPost, "/documents/"+doc.ID+"/reingest", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/documents/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var deleted struct {
		ChunksRemoved int `json:"chunks_removed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deleted))
	assert.Equal(t, 1, deleted.ChunksRemoved)

	w = doJSON(t, r, http.MethodDelete, "/documents/"+doc.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadUnsupportedFormat(t *testing.T) {
	r := newTestRouter(t)

	w := uploadFile(t, r, "image.png", "not really a png")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRequiresFile(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/upload", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
