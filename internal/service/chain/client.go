package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the subset of the Ethereum RPC used by the resolver and reader.
type Client interface {
	ethereum.ContractCaller
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// Dialer opens a client bound to a single endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Client, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Client, error) {
	return f(ctx, endpoint)
}

// EthDialer dials endpoints with go-ethereum's ethclient.
type EthDialer struct{}

func (EthDialer) Dial(ctx context.Context, endpoint string) (Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	c, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Handle is a validated client bound to one endpoint of one network.
type Handle struct {
	Client
	NetworkID uint64
	Endpoint  string
	Contracts Contracts
}
