// client.go provides the shared REST client every venue adapter embeds:
// a resty.Client configured with retry-on-5xx and a timeout, plus the
// DryRun flag that makes mutating calls synthesize a fake success instead
// of reaching the network — used for paper trading and for tests that
// must not hit a real venue.
package exchange

import (
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// baseClient is embedded by every venue adapter. It is not exported
// because callers only ever interact through the TradingAPI interface.
type baseClient struct {
	http   *resty.Client
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// newBaseClient builds the shared HTTP plumbing for a venue adapter.
func newBaseClient(baseURL string, dryRun bool, logger *slog.Logger) baseClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return baseClient{
		http:   httpClient,
		rl:     NewRateLimiter(),
		dryRun: dryRun,
		logger: logger,
	}
}
