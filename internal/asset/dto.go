package asset

import "time"

type AssetsResponse struct {
	Assets []*Asset `json:"assets"`
}

type AvailabilityResponse struct {
	AssetID   string    `json:"asset_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}
