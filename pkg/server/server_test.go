package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/guido-cesarano/docq/pkg/modules"
	"github.com/guido-cesarano/docq/pkg/queue"
	"github.com/guido-cesarano/docq/pkg/tasks"
)

func setupServer(t *testing.T) (http.Handler, *queue.FSClient) {
	t.Helper()
	reg := modules.NewRegistry(modules.Upper{})
	fs, err := queue.NewFSClient(t.TempDir(), reg)
	if err != nil {
		t.Fatalf("NewFSClient failed: %v", err)
	}
	return New(fs, reg).Handler(), fs
}

func do(t *testing.T, h http.Handler, method, path, body, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSubmitRoute(t *testing.T) {
	h, _ := setupServer(t)

	w := do(t, h, "POST", "/modules/upper/", "hello", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	id := w.Header().Get("ID")
	if id != tasks.GetID("hello") {
		t.Errorf("Expected content-hash ID header, got %s", id)
	}
	if loc := w.Header().Get("Location"); loc != "/modules/upper/"+id {
		t.Errorf("Unexpected Location header: %s", loc)
	}
}

func TestSubmitUnknownModule(t *testing.T) {
	h, _ := setupServer(t)

	w := do(t, h, "POST", "/modules/frog/", "hello", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown module, got %d", w.Code)
	}
}

func TestSubmitExplicitID(t *testing.T) {
	h, _ := setupServer(t)

	w := do(t, h, "POST", "/modules/upper/?id=my-task", "hello", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	if id := w.Header().Get("ID"); id != "my-task" {
		t.Errorf("Expected explicit id honored, got %s", id)
	}
}

func TestStatusCodes(t *testing.T) {
	h, fs := setupServer(t)
	ctx := context.Background()

	id, _ := fs.Process(ctx, "upper", "hello", "")

	check := func(wantCode int, wantStatus tasks.Status) {
		t.Helper()
		w := do(t, h, "HEAD", "/modules/upper/"+id, "", "")
		if w.Code != wantCode {
			t.Errorf("Expected %d for %s, got %d", wantCode, wantStatus, w.Code)
		}
		if got := w.Header().Get("Status"); got != string(wantStatus) {
			t.Errorf("Expected Status header %s, got %s", wantStatus, got)
		}
	}

	check(http.StatusAccepted, tasks.StatusPending)
	fs.GetTask(ctx, "upper")
	check(http.StatusAccepted, tasks.StatusStarted)
	fs.StoreResult(ctx, "upper", id, "HELLO")
	check(http.StatusOK, tasks.StatusDone)
	fs.StoreError(ctx, "upper", id, "boom")
	check(http.StatusInternalServerError, tasks.StatusError)

	w := do(t, h, "HEAD", "/modules/upper/0x00000000000000000000000000000000", "", "")
	if w.Code != http.StatusNotFound || w.Header().Get("Status") != "UNKNOWN" {
		t.Errorf("Expected 404/UNKNOWN for missing id, got %d/%s", w.Code, w.Header().Get("Status"))
	}
}

func TestResultRoute(t *testing.T) {
	h, fs := setupServer(t)
	ctx := context.Background()

	id, _ := fs.Process(ctx, "upper", "hello", "")
	fs.GetTask(ctx, "upper")
	fs.StoreResult(ctx, "upper", id, "HELLO")

	w := do(t, h, "GET", "/modules/upper/"+id, "", "")
	if w.Code != http.StatusOK || w.Body.String() != "HELLO" {
		t.Errorf("Expected 200/HELLO, got %d/%s", w.Code, w.Body.String())
	}

	w = do(t, h, "GET", "/modules/upper/"+id+"?format=json", "", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"result":"HELLO"}` {
		t.Errorf("Expected converted result, got %d/%s", w.Code, w.Body.String())
	}
}

func TestResultErrorDescriptor(t *testing.T) {
	h, fs := setupServer(t)
	ctx := context.Background()

	id, _ := fs.Process(ctx, "upper", "hello", "")
	fs.GetTask(ctx, "upper")
	fs.StoreError(ctx, "upper", id, "worker exploded")

	w := do(t, h, "GET", "/modules/upper/"+id, "", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	var desc map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &desc); err != nil {
		t.Fatalf("Expected JSON descriptor, got %s", w.Body.String())
	}
	if desc["error"] != "worker exploded" {
		t.Errorf("Expected stored error text, got %q", desc["error"])
	}
}

func TestClaimRoute(t *testing.T) {
	h, fs := setupServer(t)
	ctx := context.Background()

	w := do(t, h, "GET", "/modules/upper/", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for empty queue, got %d", w.Code)
	}

	id, _ := fs.Process(ctx, "upper", "hello", "")
	w = do(t, h, "GET", "/modules/upper/", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if w.Header().Get("ID") != id || w.Body.String() != "hello" {
		t.Errorf("Expected (%s, hello), got (%s, %s)", id, w.Header().Get("ID"), w.Body.String())
	}
}

func TestStoreRoute(t *testing.T) {
	h, fs := setupServer(t)
	ctx := context.Background()

	id, _ := fs.Process(ctx, "upper", "hello", "")
	fs.GetTask(ctx, "upper")

	w := do(t, h, "PUT", "/modules/upper/"+id, "HELLO", "text/plain")
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if status, _ := fs.Status(ctx, "upper", id); status != tasks.StatusDone {
		t.Errorf("Expected DONE, got %s", status)
	}
}

func TestStoreRouteErrorMime(t *testing.T) {
	h, fs := setupServer(t)
	ctx := context.Background()

	id, _ := fs.Process(ctx, "upper", "hello", "")
	fs.GetTask(ctx, "upper")

	// The sentinel content type routes the body into the ERROR state.
	w := do(t, h, "PUT", "/modules/upper/"+id, "boom", queue.ErrorMime)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", w.Code)
	}
	if status, _ := fs.Status(ctx, "upper", id); status != tasks.StatusError {
		t.Errorf("Expected ERROR, got %s", status)
	}
}

func TestStoreRouteConflict(t *testing.T) {
	h, fs := setupServer(t)
	ctx := context.Background()

	id, _ := fs.Process(ctx, "upper", "hello", "")

	w := do(t, h, "PUT", "/modules/upper/"+id, "HELLO", "text/plain")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for PENDING id, got %d", w.Code)
	}
}

func TestBulkStatusRoute(t *testing.T) {
	h, fs := setupServer(t)
	ctx := context.Background()

	id, _ := fs.Process(ctx, "upper", "hello", "")

	body := `["` + id + `", "nonexistent"]`
	w := do(t, h, "POST", "/modules/upper/bulk/status", body, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var statuses map[string]tasks.Status
	if err := json.Unmarshal(w.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("Bad JSON response: %v", err)
	}
	if statuses[id] != tasks.StatusPending || statuses["nonexistent"] != tasks.StatusUnknown {
		t.Errorf("Unexpected statuses: %v", statuses)
	}
}

func TestBulkMalformed(t *testing.T) {
	h, _ := setupServer(t)

	for _, body := range []string{"", "not json", "[]", "{}"} {
		w := do(t, h, "POST", "/modules/upper/bulk/status", body, "application/json")
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for body %q, got %d", body, w.Code)
		}
		w = do(t, h, "POST", "/modules/upper/bulk/process", body, "application/json")
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for body %q, got %d", body, w.Code)
		}
	}
}

func TestBulkProcessRoute(t *testing.T) {
	h, _ := setupServer(t)

	w := do(t, h, "POST", "/modules/upper/bulk/process", `["a", "b"]`, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var ids []string
	if err := json.Unmarshal(w.Body.Bytes(), &ids); err != nil {
		t.Fatalf("Bad JSON response: %v", err)
	}
	if len(ids) != 2 || ids[0] != tasks.GetID("a") || ids[1] != tasks.GetID("b") {
		t.Errorf("Unexpected ids: %v", ids)
	}
}

func TestBulkProcessMapRoute(t *testing.T) {
	h, fs := setupServer(t)
	ctx := context.Background()

	w := do(t, h, "POST", "/modules/upper/bulk/process", `{"id-1": "doc one"}`, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if status, _ := fs.Status(ctx, "upper", "id-1"); status != tasks.StatusPending {
		t.Errorf("Expected PENDING for explicit id, got %s", status)
	}
}

func TestStatsRoute(t *testing.T) {
	h, fs := setupServer(t)
	ctx := context.Background()

	fs.Process(ctx, "upper", "hello", "")

	w := do(t, h, "GET", "/modules/upper/stats", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var stats map[tasks.Status]int
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Bad JSON response: %v", err)
	}
	if stats[tasks.StatusPending] != 1 {
		t.Errorf("Unexpected stats: %v", stats)
	}
}

func TestIndexRoute(t *testing.T) {
	h, fs := setupServer(t)
	ctx := context.Background()

	fs.Process(ctx, "upper", "hello", "")

	w := do(t, h, "GET", "/", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var all map[string]map[tasks.Status]int
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil {
		t.Fatalf("Bad JSON response: %v", err)
	}
	if all["upper"][tasks.StatusPending] != 1 {
		t.Errorf("Unexpected index stats: %v", all)
	}
}
