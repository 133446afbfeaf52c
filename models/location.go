package models

import "time"

// Position is a raw device fix reported by the courier's GPS.
type Position struct {
	Lat      float64
	Lng      float64
	Accuracy *float64
	Heading  *float64
	Speed    *float64
	At       time.Time
}

// LocationSample is one append-only entry of a courier's location stream.
// The courier's current location is the sample with the latest SampledAt.
type LocationSample struct {
	ID        string    `json:"id"`
	CourierID string    `json:"courier_id"`
	OrderID   *string   `json:"order_id,omitempty"`
	Lat       float64   `json:"latitude"`
	Lng       float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	SampledAt time.Time `json:"sampled_at"`
}
