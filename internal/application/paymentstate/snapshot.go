package paymentstate

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cassiomorais/checkout/internal/domain/payment"
)

// MarshalSnapshot encodes states as a JSON list of [orderId, state] pairs.
func MarshalSnapshot(states []payment.State) ([]byte, error) {
	sorted := make([]payment.State, len(states))
	copy(sorted, states)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrderID < sorted[j].OrderID })

	pairs := make([][2]any, 0, len(sorted))
	for _, s := range sorted {
		pairs = append(pairs, [2]any{s.OrderID, s})
	}
	return json.Marshal(pairs)
}

// UnmarshalSnapshot decodes the pair list written by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) ([]payment.State, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	states := make([]payment.State, 0, len(pairs))
	for i, pair := range pairs {
		var orderID string
		if err := json.Unmarshal(pair[0], &orderID); err != nil {
			return nil, fmt.Errorf("decode snapshot key %d: %w", i, err)
		}
		var state payment.State
		if err := json.Unmarshal(pair[1], &state); err != nil {
			return nil, fmt.Errorf("decode snapshot state %s: %w", orderID, err)
		}
		state.OrderID = orderID
		states = append(states, state)
	}
	return states, nil
}
