package exchange

import (
	"log/slog"
	"testing"
)

func TestNewBaseClientHonorsDryRun(t *testing.T) {
	t.Parallel()
	c := newBaseClient("https://example.invalid", true, slog.Default())
	if !c.dryRun {
		t.Error("dryRun = false, want true")
	}
	if c.http == nil || c.rl == nil {
		t.Error("expected http client and rate limiter to be initialized")
	}
}
