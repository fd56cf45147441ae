package reddit

import "encoding/json"

// listingEnvelope is the outer shape of every listing response.
type listingEnvelope struct {
	Kind string      `json:"kind"`
	Data listingData `json:"data"`
}

type listingData struct {
	Children []thing `json:"children"`
	After    *string `json:"after"`
	Before   *string `json:"before"`
	Dist     int     `json:"dist"`
}

// thing wraps one listing entry. The payload stays raw JSON here: item-level
// decoding and validation belong to the normalizer.
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}
