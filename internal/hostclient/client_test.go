package hostclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/coordinator"
)

func newHostStub(t *testing.T, version string, executeStatus int, executeBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + version + `"}`))
	})
	mux.HandleFunc("/cron/execute-sync", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(executeStatus)
		_, _ = w.Write([]byte(executeBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVerify_AcceptsSupportedVersion(t *testing.T) {
	srv := newHostStub(t, "0.3.1", http.StatusOK, `{}`)
	c := New(srv.URL, time.Minute)
	if err := c.Verify(context.Background()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_RejectsOutOfRangeVersion(t *testing.T) {
	srv := newHostStub(t, "2.5.0", http.StatusOK, `{}`)
	c := New(srv.URL, time.Minute)
	if err := c.Verify(context.Background()); err == nil {
		t.Fatal("expected rejection of unsupported host version")
	}
}

func TestVerify_UnreachableHost(t *testing.T) {
	c := New("http://127.0.0.1:1", time.Second)
	if err := c.Verify(context.Background()); err == nil {
		t.Fatal("expected error for unreachable host")
	}
}

func TestExecuteTask_Success(t *testing.T) {
	srv := newHostStub(t, "0.3.1", http.StatusOK,
		`{"success":true,"completed":true,"session_key":"sess-1"}`)
	c := New(srv.URL, time.Minute)

	out, err := c.ExecuteTask(context.Background(), coordinator.Request{TaskID: "t1", Prompt: "p"})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if !out.Completed || out.TimedOut || out.SessionKey != "sess-1" {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestExecuteTask_408MapsToTimedOut(t *testing.T) {
	srv := newHostStub(t, "0.3.1", http.StatusRequestTimeout,
		`{"success":false,"completed":false,"timed_out":true,"error":"timeout"}`)
	c := New(srv.URL, time.Minute)

	out, err := c.ExecuteTask(context.Background(), coordinator.Request{TaskID: "t1", Prompt: "p"})
	if err != nil {
		t.Fatalf("a 408 is a structured outcome, not a transport error: %v", err)
	}
	if !out.TimedOut || out.Completed {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestExecuteTask_ServerErrorIsStructured(t *testing.T) {
	srv := newHostStub(t, "0.3.1", http.StatusInternalServerError,
		`{"success":false,"completed":false,"error":"engine exploded"}`)
	c := New(srv.URL, time.Minute)

	out, err := c.ExecuteTask(context.Background(), coordinator.Request{TaskID: "t1", Prompt: "p"})
	if err != nil {
		t.Fatalf("a 500 with a body is a structured outcome: %v", err)
	}
	if out.Error != "engine exploded" || out.TimedOut {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestExecuteTask_TransportFailure(t *testing.T) {
	c := New("http://127.0.0.1:1", time.Second)
	if _, err := c.ExecuteTask(context.Background(), coordinator.Request{TaskID: "t1"}); err == nil {
		t.Fatal("expected transport error for unreachable host")
	}
}
