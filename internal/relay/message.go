package relay

import (
	"encoding/json"
	"fmt"
)

// Filter selects which events a subscription receives. Field names follow
// the relay wire protocol.
type Filter struct {
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	P       []string `json:"#p,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// parseFrame splits an inbound relay frame ["LABEL", ...] into its label
// and raw payload elements.
func parseFrame(data []byte) (string, []json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return "", nil, fmt.Errorf("relay frame: %w", err)
	}
	if len(arr) < 1 {
		return "", nil, fmt.Errorf("relay frame: empty array")
	}
	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		return "", nil, fmt.Errorf("relay frame label: %w", err)
	}
	return label, arr[1:], nil
}
