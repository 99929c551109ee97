package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/driftlabs/mixpool/internal/circuitbreaker"
	"github.com/driftlabs/mixpool/internal/clock"
	"github.com/driftlabs/mixpool/internal/retry"
)

// ErrCircuitOpen is returned when the upstream circuit has tripped and the
// request was not attempted.
var ErrCircuitOpen = errors.New("chain API circuit open")

// RESTClient reads chain data from a mempool.space-compatible REST API.
// Tip height and fee estimates are cached briefly so a burst of callers does
// not hammer the upstream. Requests retry transient failures with backoff,
// behind a per-endpoint circuit breaker.
type RESTClient struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.Breaker

	mu         sync.RWMutex
	tipHeight  int64
	fees       FeeEstimates
	tipFetched time.Time
	feeFetched time.Time
	ttl        time.Duration
}

// NewRESTClient creates a client for the given API base URL.
func NewRESTClient(baseURL string, cacheTTL time.Duration) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second, clock.System()),
		ttl:     cacheTTL,
	}
}

func (c *RESTClient) TipHeight(ctx context.Context) (int64, error) {
	c.mu.RLock()
	if time.Since(c.tipFetched) < c.ttl && c.tipHeight > 0 {
		height := c.tipHeight
		c.mu.RUnlock()
		return height, nil
	}
	c.mu.RUnlock()

	body, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse tip height: %w", err)
	}

	c.mu.Lock()
	c.tipHeight = height
	c.tipFetched = time.Now()
	c.mu.Unlock()

	return height, nil
}

func (c *RESTClient) FeeEstimates(ctx context.Context) (FeeEstimates, error) {
	c.mu.RLock()
	if time.Since(c.feeFetched) < c.ttl && c.fees.Fast > 0 {
		fees := c.fees
		c.mu.RUnlock()
		return fees, nil
	}
	c.mu.RUnlock()

	body, err := c.get(ctx, "/v1/fees/recommended")
	if err != nil {
		return FeeEstimates{}, err
	}

	var raw struct {
		FastestFee  int64 `json:"fastestFee"`
		HalfHourFee int64 `json:"halfHourFee"`
		HourFee     int64 `json:"hourFee"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return FeeEstimates{}, fmt.Errorf("decode fee estimates: %w", err)
	}

	fees := FeeEstimates{Fast: raw.FastestFee, Medium: raw.HalfHourFee, Slow: raw.HourFee}

	c.mu.Lock()
	c.fees = fees
	c.feeFetched = time.Now()
	c.mu.Unlock()

	return fees, nil
}

func (c *RESTClient) AddressTransactions(ctx context.Context, address string) ([]Tx, error) {
	body, err := c.get(ctx, "/address/"+address+"/txs")
	if err != nil {
		return nil, err
	}

	var raw []struct {
		TxID   string `json:"txid"`
		Status struct {
			Confirmed   bool  `json:"confirmed"`
			BlockHeight int64 `json:"block_height"`
		} `json:"status"`
		Vout []struct {
			Address string `json:"scriptpubkey_address"`
			Value   int64  `json:"value"`
		} `json:"vout"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode address txs: %w", err)
	}

	var txs []Tx
	for _, r := range raw {
		var value int64
		for _, out := range r.Vout {
			if out.Address == address {
				value += out.Value
			}
		}
		tx := Tx{TxID: r.TxID, Address: address, Amount: value}
		if r.Status.Confirmed {
			tx.BlockHeight = r.Status.BlockHeight
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (c *RESTClient) get(ctx context.Context, path string) ([]byte, error) {
	if !c.breaker.Allow(path) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, path)
	}

	var body []byte
	err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		buf, err := c.fetch(ctx, path)
		if err != nil {
			return err
		}
		body = buf
		return nil
	})
	if err != nil {
		c.breaker.RecordFailure(path)
		return nil, err
	}
	c.breaker.RecordSuccess(path)
	return body, nil
}

func (c *RESTClient) fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("chain API returned status %d for %s", resp.StatusCode, path)
		// Client errors will not heal on retry; server errors might.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return buf, nil
}

// Compile-time assertion that RESTClient implements DataSource.
var _ DataSource = (*RESTClient)(nil)
