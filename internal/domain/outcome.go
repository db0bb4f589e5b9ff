package domain

import (
	"encoding/json"
	"fmt"
)

type OutcomeKind string

const (
	OutcomeValidated OutcomeKind = "stock_validated"
	OutcomeFailed    OutcomeKind = "stock_failed"
)

type OutcomeEvent struct {
	Kind     OutcomeKind
	OrderID  string
	ClientID string
}

type outcomeData struct {
	OrderID  string `json:"orderId"`
	ClientID string `json:"clientId"`
}

type outcomeEnvelope struct {
	Event OutcomeKind `json:"event"`
	Data  outcomeData `json:"data"`
}

// Payload renders the event in the wire format consumed by the order service.
func (e OutcomeEvent) Payload() ([]byte, error) {
	b, err := json.Marshal(outcomeEnvelope{
		Event: e.Kind,
		Data: outcomeData{
			OrderID:  e.OrderID,
			ClientID: e.ClientID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal outcome: %w", err)
	}

	return b, nil
}
