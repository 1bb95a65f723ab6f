package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/answer"
	"github.com/hyperjump/kiku/internal/autosave"
	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/conversation"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/indexer"
	"github.com/hyperjump/kiku/internal/llm"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/qa"
	"github.com/hyperjump/kiku/internal/retriever"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/internal/vector"
)

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	model   *llm.MockGenerator
	cfg     *config.Config
	vectors *vector.MemoryIndex
}

const budgetText = "The Q3 marketing budget is 2.4 million dollars."

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Default(dir)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Storage.DatabasePath = filepath.Join(dir, "kiku.db")
	cfg.Vector.SnapshotPath = filepath.Join(dir, "index.snapshot")

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	emb := embedding.NewMockEmbedder(8)
	vecs, err := vector.NewMemoryIndex(8, vector.Cosine)
	if err != nil {
		t.Fatal(err)
	}
	idx := indexer.NewIndexer(store, emb, vecs, cfg.Chunking)
	model := llm.NewMockGenerator("The Q3 marketing budget is $2.4M according to budget.txt.")
	engine := qa.NewEngine(retriever.New(emb, vecs, cfg.Retrieval), answer.New(model))

	srv := NewServer(engine, idx, conversation.NewSessions(0), cfg, zap.NewNop(), opts...)
	return &testEnv{srv: srv, handler: srv.Handler(), model: model, cfg: cfg, vectors: vecs}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatal(err)
			}
			rd = bytes.NewReader(data)
		}
	}
	r := httptest.NewRequest(method, path, rd)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (e *testEnv) ingest(t *testing.T, docs ...models.IngestDocument) models.IngestResult {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/documents", ingestRequest{Documents: docs})
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status: got %d, body: %s", w.Code, w.Body.String())
	}
	return decodeBody[models.IngestResult](t, w)
}

func TestHandleHealth(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestDocumentsLifecycle(t *testing.T) {
	e := newTestEnv(t)
	result := e.ingest(t,
		models.IngestDocument{Filename: "budget.txt", Content: []byte(budgetText)},
		models.IngestDocument{Filename: "notes.bin", Content: []byte("???")},
	)
	if len(result.Documents) != 1 || len(result.Errors) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	id := result.Documents[0].ID

	w := e.do(t, http.MethodGet, "/api/v1/documents", nil)
	list := decodeBody[struct {
		Documents []models.Document `json:"documents"`
		Count     int               `json:"count"`
	}](t, w)
	if list.Count != 1 || list.Documents[0].Filename != "budget.txt" {
		t.Errorf("unexpected list %+v", list)
	}

	w = e.do(t, http.MethodGet, "/api/v1/documents/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status: got %d", w.Code)
	}
	if doc := decodeBody[models.Document](t, w); doc.ChunkCount != 1 {
		t.Errorf("chunk count: got %d", doc.ChunkCount)
	}

	if w = e.do(t, http.MethodDelete, "/api/v1/documents/"+id, nil); w.Code != http.StatusOK {
		t.Errorf("delete status: got %d", w.Code)
	}
	if w = e.do(t, http.MethodDelete, "/api/v1/documents/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete status: got %d, want 404", w.Code)
	}
	if w = e.do(t, http.MethodGet, "/api/v1/documents/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d, want 404", w.Code)
	}
}

func TestHandleIngest_identicalUploadIsSkipped(t *testing.T) {
	e := newTestEnv(t)
	doc := models.IngestDocument{Filename: "budget.txt", Content: []byte(budgetText)}
	e.ingest(t, doc)

	w := e.do(t, http.MethodPost, "/api/v1/documents", ingestRequest{Documents: []models.IngestDocument{doc}})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if result := decodeBody[models.IngestResult](t, w); len(result.Skipped) != 1 {
		t.Errorf("expected skipped upload, got %+v", result)
	}
}

func TestHandleIngest_validation(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name string
		body any
	}{
		{"malformed", "{"},
		{"no documents", map[string]any{"documents": []any{}}},
		{"missing filename", map[string]any{"documents": []any{map[string]any{"content": "aGVsbG8="}}}},
		{"bad base64", `{"documents":[{"filename":"a.txt","content":"%%%"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/api/v1/documents", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestSessionAskAndHistory(t *testing.T) {
	e := newTestEnv(t)
	e.ingest(t, models.IngestDocument{Filename: "budget.txt", Content: []byte(budgetText)})

	w := e.do(t, http.MethodPost, "/api/v1/sessions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: got %d", w.Code)
	}
	session := decodeBody[map[string]string](t, w)["session_id"]
	if session == "" {
		t.Fatal("empty session id")
	}

	w = e.do(t, http.MethodPost, "/api/v1/sessions/"+session+"/ask", models.AskRequest{Question: budgetText, K: 3})
	if w.Code != http.StatusOK {
		t.Fatalf("ask status: got %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody[models.AskResponse](t, w)
	if !resp.Grounded || resp.SessionID != session || resp.Retrieved != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Source != "budget.txt" {
		t.Errorf("unexpected sources %+v", resp.Sources)
	}

	w = e.do(t, http.MethodGet, "/api/v1/sessions/"+session+"/history?order=recent&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status: got %d", w.Code)
	}
	hist := decodeBody[historyResponse](t, w)
	if len(hist.Turns) != 2 || hist.Turns[0].Role != models.RoleAssistant || hist.Turns[1].Role != models.RoleUser {
		t.Errorf("unexpected history %+v", hist.Turns)
	}

	if w = e.do(t, http.MethodGet, "/api/v1/sessions/"+session+"/history?order=sideways", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad order: got %d, want 400", w.Code)
	}
	if w = e.do(t, http.MethodGet, "/api/v1/sessions/"+session+"/history?limit=-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: got %d, want 400", w.Code)
	}

	if w = e.do(t, http.MethodDelete, "/api/v1/sessions/"+session+"/history", nil); w.Code != http.StatusOK {
		t.Errorf("clear history: got %d", w.Code)
	}
	w = e.do(t, http.MethodGet, "/api/v1/sessions/"+session+"/history", nil)
	if hist = decodeBody[historyResponse](t, w); len(hist.Turns) != 0 {
		t.Errorf("history should be empty, got %d turns", len(hist.Turns))
	}

	if w = e.do(t, http.MethodDelete, "/api/v1/sessions/"+session, nil); w.Code != http.StatusOK {
		t.Errorf("delete session: got %d", w.Code)
	}
	if w = e.do(t, http.MethodGet, "/api/v1/sessions/"+session+"/history", nil); w.Code != http.StatusNotFound {
		t.Errorf("history of deleted session: got %d, want 404", w.Code)
	}
	if w = e.do(t, http.MethodDelete, "/api/v1/sessions/unknown/history", nil); w.Code != http.StatusNotFound {
		t.Errorf("clear unknown session: got %d, want 404", w.Code)
	}
}

func TestHandleAsk_errors(t *testing.T) {
	e := newTestEnv(t)
	e.ingest(t, models.IngestDocument{Filename: "budget.txt", Content: []byte(budgetText)})

	if w := e.do(t, http.MethodPost, "/api/v1/sessions/s1/ask", models.AskRequest{Question: "   "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank question: got %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/v1/sessions/s1/ask", map[string]any{"k": 2}); w.Code != http.StatusBadRequest {
		t.Errorf("missing question: got %d, want 400", w.Code)
	}

	e.model.Err = fmt.Errorf("%w: upstream down", models.ErrGenerationUnavailable)
	if w := e.do(t, http.MethodPost, "/api/v1/sessions/s1/ask", models.AskRequest{Question: budgetText}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("generation outage: got %d, want 503", w.Code)
	}
}

func TestHandleAsk_emptyIndex(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPost, "/api/v1/sessions/s1/ask", models.AskRequest{Question: "What is the budget?"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	resp := decodeBody[models.AskResponse](t, w)
	if resp.Grounded || resp.Answer != answer.FallbackText || resp.Retrieved != 0 {
		t.Errorf("unexpected response %+v", resp)
	}
	if e.model.Calls() != 0 {
		t.Error("model must not be called without context")
	}
}

func TestHandleClearIndexAndStatus(t *testing.T) {
	e := newTestEnv(t)
	e.ingest(t, models.IngestDocument{Filename: "budget.txt", Content: []byte(budgetText)})

	w := e.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	status := decodeBody[struct {
		Index     indexer.Stats `json:"index"`
		DiskUsage *int64        `json:"disk_usage_bytes"`
	}](t, w)
	if status.Index.Documents != 1 || status.Index.Vectors != 1 {
		t.Errorf("unexpected status %+v", status.Index)
	}
	if status.DiskUsage == nil || *status.DiskUsage <= 0 {
		t.Errorf("disk usage should be reported, got %v", status.DiskUsage)
	}

	if w = e.do(t, http.MethodDelete, "/api/v1/index", nil); w.Code != http.StatusOK {
		t.Fatalf("clear: got %d", w.Code)
	}
	if e.vectors.Size() != 0 {
		t.Errorf("vector index not cleared: %d", e.vectors.Size())
	}
}

func TestHandlePersist(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do(t, http.MethodPost, "/api/v1/index/persist", nil); w.Code != http.StatusBadRequest {
		t.Errorf("without snapshots: got %d, want 400", w.Code)
	}

	e.srv.snapshots = autosave.New(e.vectors, e.cfg.Vector.SnapshotPath, nil)
	e.ingest(t, models.IngestDocument{Filename: "budget.txt", Content: []byte(budgetText)})
	w := e.do(t, http.MethodPost, "/api/v1/index/persist", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("persist: got %d, body %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(e.cfg.Vector.SnapshotPath); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodGet, "/health", nil)
	w := e.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "kiku_http_requests_total") {
		t.Error("expected http request counter in /metrics output")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", models.ErrInvalidRequest), http.StatusBadRequest},
		{models.InvalidConfigf("overlap"), http.StatusBadRequest},
		{fmt.Errorf("doc: %w", models.ErrNotFound), http.StatusNotFound},
		{models.DimensionMismatch(3, 4), http.StatusConflict},
		{fmt.Errorf("%w: down", models.ErrEmbeddingUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: down", models.ErrGenerationUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHandleWatchDirectoriesList(t *testing.T) {
	mock := &mockWatchService{dirs: []string{"/tmp/docs"}}
	e := newTestEnv(t, WithWatchService(mock, ""))

	w := e.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	out := decodeBody[struct {
		Directories []string `json:"directories"`
	}](t, w)
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/docs" {
		t.Errorf("directories: got %v", out.Directories)
	}
}

func TestHandleWatchDirectoriesList_NotEnabled(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestHandleWatchDirectoriesAddRemove(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 9000\n"), 0600); err != nil {
		t.Fatal(err)
	}
	mock := &mockWatchService{}
	e := newTestEnv(t, WithWatchService(mock, configPath))

	w := e.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if len(mock.Directories()) != 1 {
		t.Errorf("expected 1 directory, got %v", mock.Directories())
	}
	saved, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Server.Port != 9000 || len(saved.Watch.Directories) != 1 {
		t.Errorf("config not updated: port %d, dirs %v", saved.Server.Port, saved.Watch.Directories)
	}

	w = e.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil)
	if w.Code != http.StatusOK {
		t.Errorf("remove status: got %d", w.Code)
	}
	if len(mock.Directories()) != 0 {
		t.Errorf("expected no directories, got %v", mock.Directories())
	}
}

func TestHandleWatchDirectoriesAdd_InvalidPath(t *testing.T) {
	e := newTestEnv(t, WithWatchService(&mockWatchService{}, ""))
	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing path", map[string]string{}, http.StatusBadRequest},
		{"not found", map[string]string{"path": filepath.Join(t.TempDir(), "nope")}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := e.do(t, http.MethodPost, "/api/v1/watch/directories", tt.body); w.Code != tt.want {
				t.Errorf("status: got %d, want %d", w.Code, tt.want)
			}
		})
	}
}
