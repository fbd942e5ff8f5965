package yields

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/httpx"
)

const poolsPayload = `{
  "data": [
    {"pool": "pool-a", "chain": "Sonic", "project": "silo-v2", "symbol": "USDC", "apy": 4.2, "tvlUsd": 1000000},
    {"pool": "pool-b", "chain": "Sonic", "project": "beets-staked-sonic", "symbol": "stS", "apy": 7.9, "tvlUsd": 500000},
    {"pool": "pool-c", "chain": "Ethereum", "project": "silo-v2", "symbol": "WETH", "apy": 12.0, "tvlUsd": 9000000},
    {"pool": "pool-d", "chain": "sonic", "project": "other-protocol", "symbol": "XYZ", "apy": 99.0, "tvlUsd": 100},
    {"pool": "pool-e", "chain": "Sonic", "project": "Silo-V2", "symbol": "wS", "apy": 5.5, "tvlUsd": 300000}
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := New(httpx.New(2*time.Second, 0))
	client.yieldsBase = server.URL
	client.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return client, server
}

func TestOpportunitiesFiltersAndSorts(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pools" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(poolsPayload))
	})

	got, err := client.Opportunities(context.Background(), "Sonic", []string{"silo-v2", "beets-staked-sonic"}, 0)
	if err != nil {
		t.Fatalf("Opportunities() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Opportunities() returned %d pools, want 3", len(got))
	}
	if got[0].PoolID != "pool-b" || got[1].PoolID != "pool-e" || got[2].PoolID != "pool-a" {
		t.Fatalf("order = %s,%s,%s, want APY descending", got[0].PoolID, got[1].PoolID, got[2].PoolID)
	}
	if got[0].FetchedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("FetchedAt = %q, want frozen clock", got[0].FetchedAt)
	}
}

func TestOpportunitiesChainMatchIsCaseInsensitive(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(poolsPayload))
	})

	got, err := client.Opportunities(context.Background(), "sonic", nil, 0)
	if err != nil {
		t.Fatalf("Opportunities() error = %v", err)
	}
	// No project filter: every Sonic pool qualifies, including "sonic".
	if len(got) != 4 {
		t.Fatalf("Opportunities() returned %d pools, want 4", len(got))
	}
}

func TestOpportunitiesAppliesLimit(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(poolsPayload))
	})

	got, err := client.Opportunities(context.Background(), "Sonic", nil, 2)
	if err != nil {
		t.Fatalf("Opportunities() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Opportunities() returned %d pools, want limit 2", len(got))
	}
	if got[0].APY < got[1].APY {
		t.Fatal("limited results should keep the highest APY pools")
	}
}

func TestOpportunitiesUpstreamError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Opportunities(context.Background(), "Sonic", nil, 0)
	if clierr.CodeOf(err) != clierr.CodeUnavailable {
		t.Fatalf("CodeOf() = %d, want unavailable", clierr.CodeOf(err))
	}
}

func TestOpportunitiesBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 3; i++ {
		if _, err := client.Opportunities(context.Background(), "Sonic", nil, 0); err == nil {
			t.Fatalf("Opportunities() call %d should fail", i)
		}
	}

	_, err := client.Opportunities(context.Background(), "Sonic", nil, 0)
	if clierr.CodeOf(err) != clierr.CodeUnavailable {
		t.Fatalf("CodeOf() = %d, want unavailable from open breaker", clierr.CodeOf(err))
	}
	if err == nil || !strings.Contains(err.Error(), "temporarily disabled") {
		t.Fatalf("error = %v, want breaker-open message", err)
	}
}
