package models

// PriceQuote is an itemized rental quote. The combination rule is
// multiplicative: Total = BaseFare * DemandFactor * LocationFactor, where
// BaseFare = daily rate * days, rounded half-up to 2 decimals.
type PriceQuote struct {
	BikeID         int64   `json:"bike_id"`
	Days           int     `json:"days"`
	DailyRate      float64 `json:"daily_rate"`
	BaseFare       float64 `json:"base_fare"`
	DemandFactor   float64 `json:"demand_factor"`
	LocationFactor float64 `json:"location_factor"`
	Total          float64 `json:"total"`
	Currency       string  `json:"currency"`
}
