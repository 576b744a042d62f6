package chain

import (
	"errors"
	"fmt"
)

var (
	ErrProviderUnavailable = errors.New("chain: provider unavailable")
	ErrNoEndpoints         = errors.New("chain: no endpoints configured")
	ErrUnknownNetwork      = errors.New("chain: unknown network")
	ErrChainIDMismatch     = errors.New("chain: chain id mismatch")
)

// ProviderError reports that every endpoint of a network failed.
type ProviderError struct {
	NetworkID uint64
	Attempts  int
	Last      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("network %d: all endpoints failed after %d attempts: %v", e.NetworkID, e.Attempts, e.Last)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderUnavailable, e.Last}
}
