package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/docmind/aiclient"
	"github.com/hazyhaar/docmind/audit"
	"github.com/hazyhaar/docmind/blob"
	"github.com/hazyhaar/docmind/dbopen"
	"github.com/hazyhaar/docmind/dispatch"
	"github.com/hazyhaar/docmind/docpipe"
	"github.com/hazyhaar/docmind/pipeline"
	"github.com/hazyhaar/docmind/rag"
	"github.com/hazyhaar/docmind/ratelimit"
	"github.com/hazyhaar/docmind/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	store *store.Store
	disp  *dispatch.Dispatcher
	srv   *httptest.Server
}

func newTestEnv(t *testing.T, limiter *ratelimit.Limiter) *testEnv {
	t.Helper()
	ctx := context.Background()

	db := dbopen.OpenMemory(t)
	st, err := store.New(db)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	blobs, err := blob.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("blobs: %v", err)
	}
	disp := dispatch.New(db, dispatch.Options{Logger: discardLogger()})
	if err := disp.EnsureSchema(ctx); err != nil {
		t.Fatalf("dispatch schema: %v", err)
	}
	aud, err := audit.New(db)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}

	noEmbedder := func(ctx context.Context, orgID string) (aiclient.Embedder, error) {
		return nil, nil
	}
	retrieval := rag.New(st, noEmbedder, rag.Options{Logger: discardLogger()})

	pipe := pipeline.New(pipeline.Options{
		Store:      st,
		Blobs:      blobs,
		Dispatcher: disp,
		Extractor:  docpipe.New(docpipe.Config{}),
		Retrieval:  retrieval,
		AuditLog:   aud,
		Logger:     discardLogger(),
		EmbedderFor: func(ctx context.Context, orgID string) (aiclient.Embedder, error) {
			return nil, nil
		},
		GeneratorFor: func(ctx context.Context, orgID string) (aiclient.Generator, error) {
			return nil, nil
		},
	})
	if err := pipe.Register(); err != nil {
		t.Fatalf("register: %v", err)
	}

	svc := New(Options{
		Pipeline:  pipe,
		Store:     st,
		Retrieval: retrieval,
		Limiter:   limiter,
		Logger:    discardLogger(),
	})
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(srv.Close)

	if err := st.CreateOrganization(ctx, "org-1", "Test Org"); err != nil {
		t.Fatalf("create org: %v", err)
	}
	if err := st.AddMember(ctx, "org-1", "user-1", "active"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	return &testEnv{store: st, disp: disp, srv: srv}
}

func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	if err := e.disp.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

// upload posts a multipart document and returns the decoded response.
func (e *testEnv) upload(t *testing.T, orgID, filename, content string) (map[string]any, *http.Response) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if orgID != "" {
		if err := mw.WriteField("organization_id", orgID); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write file: %v", err)
	}
	mw.Close()

	resp, err := http.Post(e.srv.URL+"/api/documents", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body, resp
}

func (e *testEnv) getJSON(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

const uploadText = "The parties agree to deliver the signed contract by the end of the quarter. Payment follows within thirty days."

func TestUploadAndStatus(t *testing.T) {
	e := newTestEnv(t, nil)

	body, resp := e.upload(t, "org-1", "contract.txt", uploadText)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	docID, _ := body["id"].(string)
	if docID == "" {
		t.Fatal("upload response has no document id")
	}
	if body["extractionStatus"] != "pending" {
		t.Fatalf("extractionStatus = %v, want pending", body["extractionStatus"])
	}

	e.drain(t)

	var doc map[string]any
	getResp := e.getJSON(t, "/api/documents/"+docID, &doc)
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", getResp.StatusCode)
	}
	if doc["extractionStatus"] != "completed" {
		t.Fatalf("extractionStatus = %v, want completed", doc["extractionStatus"])
	}
	if doc["wordCount"].(float64) == 0 {
		t.Fatal("wordCount = 0 after extraction")
	}
	if doc["chunkCount"].(float64) == 0 {
		t.Fatal("chunkCount = 0 after extraction")
	}
}

func TestUploadValidation(t *testing.T) {
	e := newTestEnv(t, nil)

	_, resp := e.upload(t, "", "contract.txt", uploadText)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing org status = %d, want 400", resp.StatusCode)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("organization_id", "org-1")
	mw.Close()
	resp2, err := http.Post(e.srv.URL+"/api/documents", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing file status = %d, want 400", resp2.StatusCode)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	e := newTestEnv(t, nil)

	resp := e.getJSON(t, "/api/documents/doc_missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)

	body, _ := e.upload(t, "org-1", "contract.txt", uploadText)
	docID := body["id"].(string)
	e.drain(t)

	resp, err := http.Post(e.srv.URL+"/api/documents/"+docID+"/analyze", "application/json",
		strings.NewReader(`{"userId":"user-1","analysisType":"contract"}`))
	if err != nil {
		t.Fatalf("post analyze: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("analyze status = %d, want 202", resp.StatusCode)
	}

	e.drain(t)

	var analyses []map[string]any
	getResp := e.getJSON(t, "/api/documents/"+docID+"/analyses", &analyses)
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get analyses status = %d", getResp.StatusCode)
	}
	if len(analyses) != 1 {
		t.Fatalf("analyses = %d, want 1", len(analyses))
	}
	// No AI configured: the row is a tagged placeholder.
	if analyses[0]["model"] != "none" {
		t.Fatalf("model = %v, want none", analyses[0]["model"])
	}
}

func TestAnalyzeRequiresUserID(t *testing.T) {
	e := newTestEnv(t, nil)

	body, _ := e.upload(t, "org-1", "contract.txt", uploadText)
	docID := body["id"].(string)

	resp, err := http.Post(e.srv.URL+"/api/documents/"+docID+"/analyze", "application/json",
		strings.NewReader(`{"analysisType":"contract"}`))
	if err != nil {
		t.Fatalf("post analyze: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestQueryEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, err := http.Post(e.srv.URL+"/api/query", "application/json",
		strings.NewReader(`{"organizationId":"org-1","text":"payment terms"}`))
	if err != nil {
		t.Fatalf("post query: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Results == nil {
		t.Fatal("results must be an array, not null")
	}

	resp2, err := http.Post(e.srv.URL+"/api/query", "application/json",
		strings.NewReader(`{"text":"no org"}`))
	if err != nil {
		t.Fatalf("post query: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing org status = %d, want 400", resp2.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Options{Rate: 0.001, Burst: 1})
	e := newTestEnv(t, limiter)

	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/api/query", strings.NewReader(`{}`))
	req.Header.Set("X-Organization-ID", "org-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		t.Fatal("first request must pass")
	}

	req2, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/api/query", strings.NewReader(`{}`))
	req2.Header.Set("X-Organization-ID", "org-1")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", resp2.StatusCode)
	}

	// Health stays reachable under limit pressure.
	healthResp := e.getJSON(t, "/healthz", nil)
	if healthResp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", healthResp.StatusCode)
	}
}

func TestResponseHeaders(t *testing.T) {
	e := newTestEnv(t, nil)

	resp := e.getJSON(t, "/healthz", nil)
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID header missing")
	}
}
