package marketdata

// fetcher.go — cliente HTTP del API de barras diarias, con rate limiting y
// retries. Alimenta el histórico local; el motor nunca habla con el API.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Límite conservador: los APIs de barras EOD suelen permitir bastante
	// más, pero este proceso corre una vez al día.
	barsRatePerSec = 5

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Fetcher descarga barras diarias de un API JSON.
type Fetcher struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

// NewFetcher crea un Fetcher contra el base URL dado.
func NewFetcher(base string) *Fetcher {
	return &Fetcher{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    base,
		limiter: rate.NewLimiter(barsRatePerSec, 2),
	}
}

// DailyBars devuelve las barras de un símbolo en el rango [from, to]
// (fechas ISO, ambos inclusive).
func (f *Fetcher) DailyBars(ctx context.Context, symbol, from, to string) ([]Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("from", from)
	q.Set("to", to)
	endpoint := fmt.Sprintf("%s/api/v1/daily?%s", f.base, q.Encode())

	var bars []Bar
	if err := f.get(ctx, endpoint, &bars); err != nil {
		return nil, fmt.Errorf("marketdata.DailyBars: %s: %w", symbol, err)
	}

	for i := range bars {
		if bars[i].Symbol == "" {
			bars[i].Symbol = symbol
		}
		if err := bars[i].Validate(); err != nil {
			return nil, fmt.Errorf("marketdata.DailyBars: %w", err)
		}
	}
	return bars, nil
}

// get hace un GET con rate limiting y retries con backoff exponencial.
func (f *Fetcher) get(ctx context.Context, endpoint string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			f.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by bars API", "attempt", attempt+1)
			f.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			f.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (f *Fetcher) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
