package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"

	drepo "LendPulse/internal/domain/repository"
	"LendPulse/pkg/logger"
)

type fakeClient struct {
	chainID uint64
	closed  bool
}

func (c *fakeClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeClient) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(c.chainID), nil
}

func (c *fakeClient) Close() { c.closed = true }

// fakeDialer maps endpoint -> chain id; endpoints absent from the map are unreachable.
type fakeDialer struct {
	mu     sync.Mutex
	chains map[string]uint64
	dials  map[string]int
}

func newFakeDialer(chains map[string]uint64) *fakeDialer {
	return &fakeDialer{chains: chains, dials: make(map[string]int)}
}

func (d *fakeDialer) Dial(_ context.Context, endpoint string) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[endpoint]++
	id, ok := d.chains[endpoint]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return &fakeClient{chainID: id}, nil
}

func (d *fakeDialer) count(endpoint string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[endpoint]
}

func newTestResolver(d Dialer, sets ...EndpointSet) *Resolver {
	return NewResolver(logger.Nop(), drepo.NopMetrics{}, d, sets)
}

func TestResolveSkipsUnreachableAndStopsAtFirstValid(t *testing.T) {
	d := newFakeDialer(map[string]uint64{"http://c": 42161, "http://d": 42161})
	r := newTestResolver(d, EndpointSet{NetworkID: 42161, Name: "arbitrum", Endpoints: []string{"http://a", "http://b", "http://c", "http://d"}})

	h, err := r.Resolve(context.Background(), 42161, ResolveOptions{Timeout: time.Second, MaxAttemptsPerEndpoint: 2})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h.Endpoint != "http://c" {
		t.Fatalf("expected http://c, got %s", h.Endpoint)
	}
	if got := d.count("http://a"); got != 2 {
		t.Fatalf("expected 2 attempts on a, got %d", got)
	}
	if got := d.count("http://d"); got != 0 {
		t.Fatalf("endpoint after the valid one must not be tried, got %d dials", got)
	}
}

func TestResolveChainIDMismatchIsNotRetried(t *testing.T) {
	d := newFakeDialer(map[string]uint64{"http://wrong": 1, "http://right": 137})
	r := newTestResolver(d, EndpointSet{NetworkID: 137, Endpoints: []string{"http://wrong", "http://right"}})

	h, err := r.Resolve(context.Background(), 137, ResolveOptions{MaxAttemptsPerEndpoint: 3})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h.Endpoint != "http://right" {
		t.Fatalf("unexpected endpoint %s", h.Endpoint)
	}
	if got := d.count("http://wrong"); got != 1 {
		t.Fatalf("mismatched endpoint retried %d times", got)
	}
}

func TestResolveExhausted(t *testing.T) {
	d := newFakeDialer(nil)
	r := newTestResolver(d, EndpointSet{NetworkID: 1, Endpoints: []string{"http://a", "http://b"}})

	_, err := r.Resolve(context.Background(), 1, ResolveOptions{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Attempts != 2 || pe.Last == nil {
		t.Fatalf("unexpected provider error %+v", pe)
	}
}

func TestResolveEmptyEndpointList(t *testing.T) {
	d := newFakeDialer(nil)
	r := newTestResolver(d, EndpointSet{NetworkID: 10})

	_, err := r.Resolve(context.Background(), 10, ResolveOptions{})
	if !errors.Is(err, ErrNoEndpoints) || !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected no endpoints error, got %v", err)
	}
}

func TestResolveUnknownNetwork(t *testing.T) {
	r := newTestResolver(newFakeDialer(nil))
	if _, err := r.Resolve(context.Background(), 5, ResolveOptions{}); !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("expected unknown network, got %v", err)
	}
}

func TestResolveCachesUntilInvalidated(t *testing.T) {
	d := newFakeDialer(map[string]uint64{"http://a": 1})
	r := newTestResolver(d, EndpointSet{NetworkID: 1, Endpoints: []string{"http://a"}})

	first, err := r.Resolve(context.Background(), 1, ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, _ := r.Resolve(context.Background(), 1, ResolveOptions{})
	if first != second || d.count("http://a") != 1 {
		t.Fatalf("expected cached handle, dials=%d", d.count("http://a"))
	}

	r.Invalidate(1)
	if !first.Client.(*fakeClient).closed {
		t.Fatalf("invalidate should close the cached client")
	}
	if _, err := r.Resolve(context.Background(), 1, ResolveOptions{}); err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	if d.count("http://a") != 2 {
		t.Fatalf("expected re-dial after invalidate")
	}
}

func TestResolveRoundRobinRotatesStart(t *testing.T) {
	d := newFakeDialer(map[string]uint64{"http://a": 1, "http://b": 1})
	r := newTestResolver(d, EndpointSet{NetworkID: 1, Strategy: RoundRobin, Endpoints: []string{"http://a", "http://b"}})

	var got []string
	for i := 0; i < 3; i++ {
		h, err := r.Resolve(context.Background(), 1, ResolveOptions{})
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		got = append(got, h.Endpoint)
		r.Invalidate(1)
	}
	want := []string{"http://a", "http://b", "http://a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation %v, want %v", got, want)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy("round-robin"); err != nil || s != RoundRobin {
		t.Fatalf("round-robin: %v %v", s, err)
	}
	if s, err := ParseStrategy(""); err != nil || s != Sequential {
		t.Fatalf("empty: %v %v", s, err)
	}
	if _, err := ParseStrategy("random"); err == nil {
		t.Fatalf("expected error")
	}
}
