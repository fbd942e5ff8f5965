package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
)

func doGet(t *testing.T, client *Client, url string, out any) error {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	_, err = client.DoJSON(context.Background(), req, out)
	return err
}

func TestDoJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&count, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out map[string]any
	if err := doGet(t, New(2*time.Second, 1), srv.URL, &out); err != nil {
		t.Fatalf("DoJSON() error = %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("response = %#v, want retried success", out)
	}
	if atomic.LoadInt32(&count) != 2 {
		t.Fatalf("server saw %d requests, want 2", count)
	}
}

func TestDoJSONSetsDefaultHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q, want application/json", r.Header.Get("Accept"))
		}
		if r.Header.Get("User-Agent") != "noir-agent/1.0" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var out map[string]any
	if err := doGet(t, New(time.Second, 0), srv.URL, &out); err != nil {
		t.Fatalf("DoJSON() error = %v", err)
	}
}

func TestDoJSONStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   clierr.Code
	}{
		{"rate limited", http.StatusTooManyRequests, clierr.CodeRateLimited},
		{"auth", http.StatusUnauthorized, clierr.CodeAuth},
		{"server error", http.StatusBadGateway, clierr.CodeUnavailable},
		{"unexpected", http.StatusTeapot, clierr.CodeUnsupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := doGet(t, New(time.Second, 0), srv.URL, nil)
			if clierr.CodeOf(err) != tc.want {
				t.Fatalf("CodeOf() = %d, want %d", clierr.CodeOf(err), tc.want)
			}
		})
	}
}

func TestDoJSONEmptyBodyIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var out map[string]any
	err := doGet(t, New(time.Second, 0), srv.URL, &out)
	if clierr.CodeOf(err) != clierr.CodeUnavailable {
		t.Fatalf("CodeOf() = %d, want unavailable for empty body", clierr.CodeOf(err))
	}
}
