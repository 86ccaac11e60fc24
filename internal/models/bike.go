package models

import "time"

// Bike is the catalog entry the reconciliation engine touches. Pricing factors
// live on the row so a quote is deterministic for a given catalog state.
type Bike struct {
	ID             int64     `json:"id" db:"id"`
	OwnerID        string    `json:"owner_id" db:"owner_id"`
	Name           string    `json:"name" db:"name"`
	Location       string    `json:"location" db:"location"`
	DailyRate      float64   `json:"daily_rate" db:"daily_rate"`
	DemandFactor   float64   `json:"demand_factor" db:"demand_factor"`
	LocationFactor float64   `json:"location_factor" db:"location_factor"`
	Available      bool      `json:"available" db:"available"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
