package playback

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "job-1.mp4"), []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return NewServer(dir, nil)
}

func TestServer_Resolve(t *testing.T) {
	s := NewServer("/renders", nil)

	valid := []string{"job-1.mp4", "3f0c2c1e-8d7a-4a51-9f39-0c6f7d9b8a11.gif"}
	for _, name := range valid {
		if _, err := s.Resolve(name); err != nil {
			t.Errorf("Resolve(%q) error = %v", name, err)
		}
	}

	invalid := []string{"", "../secret.mp4", "a/b.mp4", "job.txt", ".mp4", "job.mp4.exe", "-job.mp4"}
	for _, name := range invalid {
		if _, err := s.Resolve(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Resolve(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestServer_ServeRender_Full(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/renders/job-1.mp4", nil)
	if err := s.ServeRender(rr, req, "job-1.mp4"); err != nil {
		t.Fatalf("ServeRender() error = %v", err)
	}

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", got)
	}
	if got := rr.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q, want bytes", got)
	}
	if rr.Body.String() != "0123456789" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestServer_ServeRender_Range(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/renders/job-1.mp4", nil)
	req.Header.Set("Range", "bytes=2-5")
	s.ServeRender(rr, req, "job-1.mp4")

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusPartialContent)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
	if rr.Body.String() != "2345" {
		t.Errorf("body = %q, want 2345", rr.Body.String())
	}
}

func TestServer_ServeRender_Unsatisfiable(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/renders/job-1.mp4", nil)
	req.Header.Set("Range", "bytes=50-")
	s.ServeRender(rr, req, "job-1.mp4")

	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusRequestedRangeNotSatisfiable)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes */10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServer_ServeRender_HeadHasNoBody(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/renders/job-1.mp4", nil)
	s.ServeRender(rr, req, "job-1.mp4")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("HEAD body length = %d, want 0", rr.Body.Len())
	}
	if got := rr.Header().Get("Content-Length"); got != "10" {
		t.Errorf("Content-Length = %q, want 10", got)
	}
}

func TestServer_ServeRender_NotFoundAndInvalid(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.ServeRender(rr, httptest.NewRequest(http.MethodGet, "/renders/other.mp4", nil), "other.mp4")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr = httptest.NewRecorder()
	s.ServeRender(rr, httptest.NewRequest(http.MethodGet, "/renders/x", nil), "../job-1.mp4")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("traversal status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
