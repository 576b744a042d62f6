package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordCacheLookup("aave:user", "hit")
	r.RecordCacheLookup("aave:user", "hit")
	r.RecordChainRead("42161", "account", 0.2, errors.New("boom"))
	r.RecordRateLimit("account_read", false)

	if got := testutil.ToFloat64(r.cacheLookups.WithLabelValues("aave:user", "hit")); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(r.chainErrors.WithLabelValues("42161", "account")); got != 1 {
		t.Fatalf("expected 1 chain error, got %v", got)
	}
	if got := testutil.ToFloat64(r.rateLimits.WithLabelValues("account_read", "rejected")); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}

	// a second recorder on its own registry must not collide
	New(prometheus.NewRegistry())
}
