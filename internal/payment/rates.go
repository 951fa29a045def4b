package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/resilience"
)

// RateLookup returns how many units of to one unit of from buys.
type RateLookup interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// HTTPRates queries an exchange-rate API that answers
// {"rates":{"USD":0.0175,...}} for a base currency substituted into URL at
// the {from} placeholder.
type HTTPRates struct {
	Client resilience.HTTPClient
	URL    string
}

type ratesResponse struct {
	Result string                     `json:"result"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

// Rate implements RateLookup.
func (h HTTPRates) Rate(ctx context.Context, from, to string) (rate decimal.Decimal, err error) {
	defer func() { obs.RateLookupTotal.WithLabelValues(obs.Outcome(err)).Inc() }()

	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	endpoint := strings.ReplaceAll(h.URL, "{from}", from)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrRateLookupFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.Client.Do(ctx, req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrRateLookupFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: rate api responded %s", ErrRateLookupFailed, resp.Status)
	}
	var body ratesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode rates: %w", ErrRateLookupFailed, err)
	}
	if body.Result != "" && body.Result != "success" {
		return decimal.Zero, fmt.Errorf("%w: rate api result %q", ErrRateLookupFailed, body.Result)
	}
	rate, ok := body.Rates[to]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no %s rate for %s", ErrRateLookupFailed, to, from)
	}
	return rate, nil
}
