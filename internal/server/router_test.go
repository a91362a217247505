package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/disk-lens/disk-lens/internal/progress"
	"github.com/disk-lens/disk-lens/internal/scan"
	"github.com/disk-lens/disk-lens/internal/sizecache"
	"github.com/disk-lens/disk-lens/internal/usage"
)

// fakeUsage serves a canned tree and records delete calls.
type fakeUsage struct {
	tree    *usage.Node
	hit     bool
	err     error
	deleted []string
	delErr  error
}

func (f *fakeUsage) DiskUsage(_ context.Context, dirPath string, onProgress func(scan.Progress)) (*usage.Node, bool, error) {
	if onProgress != nil {
		onProgress(scan.Progress{ProcessedFiles: 3, CurrentPath: dirPath, Complete: true})
	}
	if f.err != nil {
		return nil, false, f.err
	}
	return f.tree, f.hit, nil
}

func (f *fakeUsage) DeleteEntry(path string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, path)
	return nil
}

func newTestApp(t *testing.T, svc UsageService, store *sizecache.Store) *fiber.App {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if store == nil {
		store = sizecache.NewStore(time.Hour)
	}
	app, err := NewApp(AppOptions{
		Logger: logger,
		Usage:  svc,
		Store:  store,
		Hub:    progress.NewHub(),
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}

func TestUsageEndpointServesTree(t *testing.T) {
	tree := &usage.Node{Name: "proj", Path: "/tmp/proj", Size: 2097252, Type: usage.TypeDirectory}
	app := newTestApp(t, &fakeUsage{tree: tree}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/usage?path=/tmp/proj", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}

	var payload struct {
		RequestID string      `json:"request_id"`
		Tree      *usage.Node `json:"tree"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.RequestID == "" || payload.Tree == nil || payload.Tree.Size != 2097252 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestUsageEndpointRequiresPath(t *testing.T) {
	app := newTestApp(t, &fakeUsage{tree: &usage.Node{}}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/usage", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUsageEndpointMapsStatErrors(t *testing.T) {
	app := newTestApp(t, &fakeUsage{err: os.ErrNotExist}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/usage?path=/nope", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestUsageEndpointLogsCacheHit(t *testing.T) {
	for _, hit := range []bool{false, true} {
		var logBuf bytes.Buffer
		logger := logrus.New()
		logger.SetOutput(&logBuf)
		logger.SetFormatter(&logrus.JSONFormatter{})

		app, err := NewApp(AppOptions{
			Logger: logger,
			Usage:  &fakeUsage{tree: &usage.Node{}, hit: hit},
			Store:  sizecache.NewStore(time.Hour),
			Hub:    progress.NewHub(),
		})
		if err != nil {
			t.Fatalf("failed to create app: %v", err)
		}

		if _, err := app.Test(httptest.NewRequest("GET", "/usage?path=/x", nil)); err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		want := []byte(`"cache_hit":false`)
		if hit {
			want = []byte(`"cache_hit":true`)
		}
		if !bytes.Contains(logBuf.Bytes(), want) {
			t.Fatalf("usage log should carry the actual hit flag %v: %s", hit, logBuf.String())
		}
	}
}

func TestUsageEndpointHonorsClientRequestID(t *testing.T) {
	app := newTestApp(t, &fakeUsage{tree: &usage.Node{}}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/usage?path=/x&request_id=gui-42", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if got := resp.Header.Get("X-Request-ID"); got != "gui-42" {
		t.Fatalf("expected client request id to be echoed, got %q", got)
	}
}

func TestProgressEndpoint(t *testing.T) {
	app := newTestApp(t, &fakeUsage{tree: &usage.Node{}}, nil)

	if _, err := app.Test(httptest.NewRequest("GET", "/usage?path=/x&request_id=gui-7", nil)); err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/-/progress/gui-7", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var snap progress.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !snap.Complete || snap.Percent != 100 || snap.ProcessedFiles != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/-/progress/unknown", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", resp.StatusCode)
	}
}

func TestInvalidateEndpoint(t *testing.T) {
	store := sizecache.NewStore(time.Hour)
	store.Put("/a", sizecache.SizeMapping{"/a": 1})
	store.Put("/a/b/c", sizecache.SizeMapping{"/a/b/c": 1})
	store.Put("/x", sizecache.SizeMapping{"/x": 1})
	app := newTestApp(t, &fakeUsage{tree: &usage.Node{}}, store)

	body := bytes.NewBufferString(`{"path":"/a/b"}`)
	req := httptest.NewRequest("POST", "/cache/invalidate", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Removed int `json:"removed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Removed != 2 {
		t.Fatalf("expected 2 removed records, got %d", payload.Removed)
	}
	if _, ok := store.Get("/x"); !ok {
		t.Fatalf("unrelated root should survive invalidation")
	}
}

func TestInvalidateEndpointRequiresBody(t *testing.T) {
	app := newTestApp(t, &fakeUsage{tree: &usage.Node{}}, nil)

	resp, err := app.Test(httptest.NewRequest("POST", "/cache/invalidate", bytes.NewBufferString(`{}`)))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestClearEndpoint(t *testing.T) {
	store := sizecache.NewStore(time.Hour)
	store.Put("/a", sizecache.SizeMapping{"/a": 1})
	app := newTestApp(t, &fakeUsage{tree: &usage.Node{}}, store)

	resp, err := app.Test(httptest.NewRequest("POST", "/cache/clear", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if infos := store.Snapshot(); len(infos) != 0 {
		t.Fatalf("cache should be empty after clear, got %v", infos)
	}
}

func TestDeleteEndpointMapsProtectedPath(t *testing.T) {
	app := newTestApp(t, &fakeUsage{tree: &usage.Node{}, delErr: usage.ErrProtectedPath}, nil)

	body := bytes.NewBufferString(`{"path":"/etc"}`)
	req := httptest.NewRequest("DELETE", "/fs/entry", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403 for protected path, got %d", resp.StatusCode)
	}
}

func TestDeleteEndpointDelegates(t *testing.T) {
	svc := &fakeUsage{tree: &usage.Node{}}
	app := newTestApp(t, svc, nil)

	target := filepath.Join("/tmp", "victim")
	body := bytes.NewBufferString(`{"path":"` + target + `"}`)
	req := httptest.NewRequest("DELETE", "/fs/entry", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(svc.deleted) != 1 || svc.deleted[0] != target {
		t.Fatalf("delete should be delegated to the service, got %v", svc.deleted)
	}
}

func TestCacheDiagnosticsEndpoint(t *testing.T) {
	store := sizecache.NewStore(time.Hour)
	store.Put("/a", sizecache.SizeMapping{"/a": 4096})
	app := newTestApp(t, &fakeUsage{tree: &usage.Node{}}, store)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/cache", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(raw, []byte(`"/a"`)) || !bytes.Contains(raw, []byte("bytes_human")) {
		t.Fatalf("diagnostics payload missing fields: %s", raw)
	}
}
