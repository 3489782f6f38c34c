package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// yahooChartResponse represents the Yahoo Finance Chart API response
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"previousClose"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// ReferencePriceClient polls an external quote source for sanity marks. The
// execution path never depends on it; it exists so a bad primary feed can be
// detected by comparing against an independent source.
type ReferencePriceClient struct {
	symbols      []string
	onUpdate     func(symbol string, price decimal.Decimal)
	prices       map[string]decimal.Decimal
	mu           sync.RWMutex
	pollInterval time.Duration
	baseURL      string
	httpClient   *http.Client
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewReferencePriceClient creates a poller for the given symbols.
func NewReferencePriceClient(symbols []string, onUpdate func(string, decimal.Decimal)) *ReferencePriceClient {
	return &ReferencePriceClient{
		symbols:      symbols,
		onUpdate:     onUpdate,
		prices:       make(map[string]decimal.Decimal),
		pollInterval: 60 * time.Second, // Default: 1 minute
		baseURL:      "https://query1.finance.yahoo.com/v8/finance/chart",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewReferencePriceClientWithConfig creates a client with custom configuration.
func NewReferencePriceClientWithConfig(symbols []string, onUpdate func(string, decimal.Decimal), baseURL string, pollIntervalSec int) *ReferencePriceClient {
	client := NewReferencePriceClient(symbols, onUpdate)
	if baseURL != "" {
		client.baseURL = baseURL
	}
	if pollIntervalSec > 0 {
		client.pollInterval = time.Duration(pollIntervalSec) * time.Second
	}
	return client
}

// Start begins polling for reference price updates.
func (c *ReferencePriceClient) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	// Fetch immediately on start
	if err := c.fetchAll(ctx); err != nil {
		slog.Warn("Initial reference price fetch failed", slog.Any("error", err))
		// Continue anyway - will retry on next tick
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Reference price polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Reference price polling stopped")
				return
			case <-ticker.C:
				if err := c.fetchAll(ctx); err != nil {
					slog.Warn("Reference price fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// fetchAll fetches every symbol, retrying each with backoff.
func (c *ReferencePriceClient) fetchAll(ctx context.Context) error {
	var lastErr error
	for _, symbol := range c.symbols {
		if err := c.fetchSymbol(ctx, symbol); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *ReferencePriceClient) fetchSymbol(ctx context.Context, symbol string) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s
			delay := time.Duration(1<<uint(i-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.doFetch(ctx, symbol)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("Reference price fetch attempt failed",
			slog.String("symbol", symbol),
			slog.Int("attempt", i+1),
			slog.Any("error", err))
	}
	return lastErr
}

func (c *ReferencePriceClient) doFetch(ctx context.Context, symbol string) error {
	url := fmt.Sprintf("%s/%s", c.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	// Add browser-like User-Agent to avoid bot detection
	req.Header.Set("User-Agent", GetUserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var data yahooChartResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return err
	}

	if data.Chart.Error != nil {
		return fmt.Errorf("quote API error: %s - %s", data.Chart.Error.Code, data.Chart.Error.Description)
	}

	if len(data.Chart.Result) == 0 {
		return fmt.Errorf("empty response for %s", symbol)
	}

	newPrice := decimal.NewFromFloat(data.Chart.Result[0].Meta.RegularMarketPrice)

	c.mu.Lock()
	oldPrice := c.prices[symbol]
	c.prices[symbol] = newPrice
	c.mu.Unlock()

	if !oldPrice.Equal(newPrice) && c.onUpdate != nil {
		c.onUpdate(symbol, newPrice)
	}

	return nil
}

// Stop stops the polling.
func (c *ReferencePriceClient) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

// Price returns the last fetched reference price for a symbol.
func (c *ReferencePriceClient) Price(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	return p, ok
}
