package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"LendPulse/pkg/config"
)

// Strategy selects the order endpoints are tried in.
type Strategy int

const (
	// Sequential always starts from the first configured endpoint.
	Sequential Strategy = iota
	// RoundRobin advances the starting endpoint on every resolution.
	RoundRobin
)

func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "sequential":
		return Sequential, nil
	case "round-robin":
		return RoundRobin, nil
	}
	return Sequential, fmt.Errorf("unknown endpoint strategy %q", s)
}

func (s Strategy) String() string {
	if s == RoundRobin {
		return "round-robin"
	}
	return "sequential"
}

// Contracts are the protocol's well-known addresses on a network.
type Contracts struct {
	PoolAddressesProvider common.Address
	DataProvider          common.Address
}

// EndpointSet is the static, ordered endpoint list for a network.
type EndpointSet struct {
	NetworkID uint64
	Name      string
	Endpoints []string
	Strategy  Strategy
	Contracts Contracts
}

// EndpointSetsFromConfig converts configured networks.
func EndpointSetsFromConfig(networks []config.NetworkConfig) ([]EndpointSet, error) {
	sets := make([]EndpointSet, 0, len(networks))
	for _, n := range networks {
		strategy, err := ParseStrategy(n.Strategy)
		if err != nil {
			return nil, fmt.Errorf("network %d: %w", n.ID, err)
		}
		endpoints := make([]string, len(n.Endpoints))
		copy(endpoints, n.Endpoints)
		sets = append(sets, EndpointSet{
			NetworkID: n.ID,
			Name:      n.Name,
			Endpoints: endpoints,
			Strategy:  strategy,
			Contracts: Contracts{
				PoolAddressesProvider: common.HexToAddress(n.Contracts.PoolAddressesProvider),
				DataProvider:          common.HexToAddress(n.Contracts.DataProvider),
			},
		})
	}
	return sets, nil
}
