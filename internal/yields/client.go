package yields

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/httpx"
	"github.com/GabrielCartier/noir-monorepo-sub000/internal/model"
)

const defaultYieldsBase = "https://yields.llama.fi"

// Client fetches pool-level APY/TVL data for the integrated protocols. Pure
// read path: no concurrency or consistency hazards, so failures only degrade
// the yield listing, never custody operations. The breaker keeps a flapping
// upstream from stalling interactive commands.
type Client struct {
	http       *httpx.Client
	yieldsBase string
	breaker    *gobreaker.CircuitBreaker
	now        func() time.Time
}

func New(httpClient *httpx.Client) *Client {
	return &Client{
		http:       httpClient,
		yieldsBase: defaultYieldsBase,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "yields",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		now: time.Now,
	}
}

type poolResp struct {
	Data []struct {
		Pool    string  `json:"pool"`
		Chain   string  `json:"chain"`
		Project string  `json:"project"`
		Symbol  string  `json:"symbol"`
		APY     float64 `json:"apy"`
		TVLUSD  float64 `json:"tvlUsd"`
	} `json:"data"`
}

// Opportunities lists yield pools on chain, optionally filtered to the given
// projects, sorted by APY descending.
func (c *Client) Opportunities(ctx context.Context, chain string, projects []string, limit int) ([]model.YieldOpportunity, error) {
	raw, err := c.breaker.Execute(func() (any, error) {
		url := c.yieldsBase + "/pools"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "build pools request", err)
		}
		var resp poolResp
		if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "yield provider temporarily disabled", err)
		}
		return nil, err
	}
	resp := raw.(poolResp)

	wanted := make(map[string]struct{}, len(projects))
	for _, p := range projects {
		if norm := strings.ToLower(strings.TrimSpace(p)); norm != "" {
			wanted[norm] = struct{}{}
		}
	}
	fetchedAt := c.now().UTC().Format(time.RFC3339)
	out := make([]model.YieldOpportunity, 0)
	for _, pool := range resp.Data {
		if !strings.EqualFold(pool.Chain, chain) {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[strings.ToLower(pool.Project)]; !ok {
				continue
			}
		}
		out = append(out, model.YieldOpportunity{
			Protocol:  pool.Project,
			Chain:     pool.Chain,
			Symbol:    pool.Symbol,
			PoolID:    pool.Pool,
			APY:       pool.APY,
			TVLUSD:    pool.TVLUSD,
			FetchedAt: fetchedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].APY > out[j].APY })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
