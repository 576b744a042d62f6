package cache

import (
	"strconv"
	"strings"

	pkgcache "LendPulse/pkg/cache"
)

// Key grammar: {namespace}:{scope}:{identifier}:{networkId}:{subtype}
const (
	Namespace   = "aave"
	ScopeUser   = "user"
	ScopeMarket = "market"
	globalID    = "global"
)

func build(scope, identifier string, networkID uint64, subtype string) string {
	return pkgcache.GenerateKeyWithParams(Namespace, scope, identifier, strconv.FormatUint(networkID, 10), subtype)
}

// AccountKey caches the normalized account state.
func AccountKey(address string, networkID uint64) string {
	return build(ScopeUser, strings.ToLower(address), networkID, "account")
}

// HealthKey caches the combined health snapshot.
func HealthKey(address string, networkID uint64) string {
	return build(ScopeUser, strings.ToLower(address), networkID, "health")
}

// PositionsKey caches per-reserve positions.
func PositionsKey(address string, networkID uint64) string {
	return build(ScopeUser, strings.ToLower(address), networkID, "positions")
}

// MarketKey caches market data of one type for a network.
func MarketKey(networkID uint64, dataType string) string {
	return build(ScopeMarket, globalID, networkID, dataType)
}

// UserPattern matches every per-account key.
func UserPattern() string {
	return pkgcache.BuildPattern(Namespace + ":" + ScopeUser + ":")
}

// MarketPattern matches every market key.
func MarketPattern() string {
	return pkgcache.BuildPattern(Namespace + ":" + ScopeMarket + ":")
}
