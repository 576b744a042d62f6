package aave

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal Aave v3 fragments. getReserveData returns a fully static struct, so its
// outputs are declared flat; the encoding is identical to the tuple form.
const addressesProviderABI = `[
 {"type":"function","name":"getPool","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const poolABI = `[
 {"type":"function","name":"getUserAccountData","stateMutability":"view",
  "inputs":[{"name":"user","type":"address"}],
  "outputs":[
   {"name":"totalCollateralBase","type":"uint256"},
   {"name":"totalDebtBase","type":"uint256"},
   {"name":"availableBorrowsBase","type":"uint256"},
   {"name":"currentLiquidationThreshold","type":"uint256"},
   {"name":"ltv","type":"uint256"},
   {"name":"healthFactor","type":"uint256"}]},
 {"type":"function","name":"getReserveData","stateMutability":"view",
  "inputs":[{"name":"asset","type":"address"}],
  "outputs":[
   {"name":"configuration","type":"uint256"},
   {"name":"liquidityIndex","type":"uint128"},
   {"name":"currentLiquidityRate","type":"uint128"},
   {"name":"variableBorrowIndex","type":"uint128"},
   {"name":"currentVariableBorrowRate","type":"uint128"},
   {"name":"currentStableBorrowRate","type":"uint128"},
   {"name":"lastUpdateTimestamp","type":"uint40"},
   {"name":"id","type":"uint16"},
   {"name":"aTokenAddress","type":"address"},
   {"name":"stableDebtTokenAddress","type":"address"},
   {"name":"variableDebtTokenAddress","type":"address"},
   {"name":"interestRateStrategyAddress","type":"address"},
   {"name":"accruedToTreasury","type":"uint128"},
   {"name":"unbacked","type":"uint128"},
   {"name":"isolationModeTotalDebt","type":"uint128"}]}
]`

const dataProviderABI = `[
 {"type":"function","name":"getAllReservesTokens","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"tuple[]","components":[
   {"name":"symbol","type":"string"},
   {"name":"tokenAddress","type":"address"}]}]},
 {"type":"function","name":"getReserveConfigurationData","stateMutability":"view",
  "inputs":[{"name":"asset","type":"address"}],
  "outputs":[
   {"name":"decimals","type":"uint256"},
   {"name":"ltv","type":"uint256"},
   {"name":"liquidationThreshold","type":"uint256"},
   {"name":"liquidationBonus","type":"uint256"},
   {"name":"reserveFactor","type":"uint256"},
   {"name":"usageAsCollateralEnabled","type":"bool"},
   {"name":"borrowingEnabled","type":"bool"},
   {"name":"stableBorrowRateEnabled","type":"bool"},
   {"name":"isActive","type":"bool"},
   {"name":"isFrozen","type":"bool"}]},
 {"type":"function","name":"getUserReserveData","stateMutability":"view",
  "inputs":[{"name":"asset","type":"address"},{"name":"user","type":"address"}],
  "outputs":[
   {"name":"currentATokenBalance","type":"uint256"},
   {"name":"currentStableDebt","type":"uint256"},
   {"name":"currentVariableDebt","type":"uint256"},
   {"name":"principalStableDebt","type":"uint256"},
   {"name":"scaledVariableDebt","type":"uint256"},
   {"name":"stableBorrowRate","type":"uint256"},
   {"name":"liquidityRate","type":"uint256"},
   {"name":"stableRateLastUpdated","type":"uint40"},
   {"name":"usageAsCollateralEnabled","type":"bool"}]}
]`

var (
	addressesProvider = mustParse(addressesProviderABI)
	pool              = mustParse(poolABI)
	dataProvider      = mustParse(dataProviderABI)
)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// reserveToken mirrors the TokenData struct returned by getAllReservesTokens.
type reserveToken struct {
	Symbol       string
	TokenAddress common.Address
}
