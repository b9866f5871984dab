package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heimdex/heimdex-render/internal/api"
	"github.com/heimdex/heimdex-render/internal/design"
	"github.com/heimdex/heimdex-render/internal/engine"
	"github.com/heimdex/heimdex-render/internal/render"
)

func TestClient_Submit(t *testing.T) {
	var gotAuth string
	var gotReq map[string]json.RawMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/render" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		api.WriteJSON(w, http.StatusOK, api.RenderResponse{Video: api.VideoResponse{ID: "job-1", Status: "PENDING"}})
	}))
	defer server.Close()

	c := New(server.URL+"/", WithToken("tok"))
	v, err := c.Submit(context.Background(), render.SubmitRequest{
		Design:  &design.Design{ID: "d1"},
		Options: &render.Options{Format: "gif"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if v.ID != "job-1" || v.Status != "PENDING" {
		t.Errorf("Submit() = %+v", v)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok")
	}
	if _, ok := gotReq["design"]; !ok {
		t.Error("request body missing design")
	}
	if _, ok := gotReq["options"]; !ok {
		t.Error("request body missing options")
	}
}

func TestClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != api.RenderStatusType {
			t.Errorf("type = %q", r.URL.Query().Get("type"))
		}
		api.WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
	}))
	defer server.Close()

	_, err := New(server.URL).Status(context.Background(), "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Status() error = %v, want *APIError", err)
	}
	if !apiErr.NotFound() || apiErr.Code != "NOT_FOUND" || apiErr.Message != "job not found" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestClient_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New(server.URL).Jobs(context.Background(), 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Jobs() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "bad gateway" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestClient_WaitStopsOnTerminal(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		v := api.VideoResponse{ID: "job-1", Status: "PROCESSING", Progress: int(n) * 30}
		if n >= 3 {
			v = api.VideoResponse{ID: "job-1", Status: "COMPLETED", Progress: 100, URL: "/renders/job-1.mp4"}
		}
		api.WriteJSON(w, http.StatusOK, api.RenderResponse{Video: v})
	}))
	defer server.Close()

	var seen []string
	c := New(server.URL, WithPollInterval(time.Millisecond))
	final, err := c.Wait(context.Background(), "job-1", func(v api.VideoResponse) {
		seen = append(seen, v.Status)
	})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if final.Status != "COMPLETED" || final.URL != "/renders/job-1.mp4" {
		t.Errorf("Wait() = %+v", final)
	}
	if polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", polls.Load())
	}
	if len(seen) != 3 || seen[2] != "COMPLETED" {
		t.Errorf("updates = %v", seen)
	}
}

func TestClient_WaitTreatsTimeoutAsTerminal(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		api.WriteJSON(w, http.StatusOK, api.RenderResponse{Video: api.VideoResponse{ID: "j", Status: "TIMEOUT", Progress: 50}})
	}))
	defer server.Close()

	final, err := New(server.URL, WithPollInterval(time.Hour)).Wait(context.Background(), "j", nil)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if final.Status != "TIMEOUT" || polls.Load() != 1 {
		t.Errorf("Wait() = %+v after %d polls", final, polls.Load())
	}
}

func TestClient_WaitHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, api.RenderResponse{Video: api.VideoResponse{ID: "j", Status: "PENDING"}})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(server.URL, WithPollInterval(10*time.Millisecond)).Wait(ctx, "j", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestClient_AgainstServer(t *testing.T) {
	mgr, err := render.NewManager(render.Config{
		Engine:     engine.NewLocalEngine(t.TempDir(), engine.NewStubExecutor(nil), nil),
		RendersDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{Renders: mgr, StartTime: time.Now()}))
	defer server.Close()
	defer mgr.Shutdown(context.Background())

	c := New(server.URL, WithPollInterval(5*time.Millisecond))
	ctx := context.Background()

	v, err := c.Submit(ctx, render.SubmitRequest{
		Design:  &design.Design{},
		Options: &render.Options{FPS: design.N(30)},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if v.Status != "PENDING" || v.Progress != 0 {
		t.Errorf("Submit() = %+v, want PENDING/0", v)
	}

	last := -1
	final, err := c.Wait(ctx, v.ID, func(u api.VideoResponse) {
		if u.Progress < last {
			t.Errorf("progress went backwards: %d -> %d", last, u.Progress)
		}
		last = u.Progress
	})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if final.Status != "COMPLETED" || final.URL != "/renders/"+v.ID+".mp4" {
		t.Errorf("Wait() = %+v", final)
	}

	jobs, err := c.Jobs(ctx, 5)
	if err != nil {
		t.Fatalf("Jobs() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != v.ID {
		t.Errorf("Jobs() = %+v", jobs)
	}

	if _, err := c.Cancel(ctx, v.ID); err == nil {
		t.Error("Cancel() of a finished job succeeded")
	}
}
