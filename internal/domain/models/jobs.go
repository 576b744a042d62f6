package models

type DataType string

const (
	DataTypeAPYs     DataType = "apys"
	DataTypeRates    DataType = "rates"
	DataTypeReserves DataType = "reserves"
	DataTypeAll      DataType = "all"
)

// Valid reports whether d is a known market data type.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeAPYs, DataTypeRates, DataTypeReserves, DataTypeAll:
		return true
	}
	return false
}

// HealthUpdatePayload is the payload of a health-update job.
type HealthUpdatePayload struct {
	UserAddress string `json:"userAddress"`
	NetworkID   uint64 `json:"networkId"`
	ForceUpdate bool   `json:"forceUpdate"`
}

// MarketDataPayload is the payload of a market-data job.
type MarketDataPayload struct {
	NetworkID   uint64   `json:"networkId"`
	DataType    DataType `json:"dataType"`
	ForceUpdate bool     `json:"forceUpdate"`
}

// BulkPayload is the payload of fan-out jobs. Zero NetworkID means every network.
type BulkPayload struct {
	NetworkID uint64 `json:"networkId,omitempty"`
}

// CleanupPayload is the payload of the cache cleanup job.
type CleanupPayload struct {
	Patterns []string `json:"patterns,omitempty"`
}
