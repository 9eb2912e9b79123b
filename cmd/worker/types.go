package main

// SettlementMessage is the notice the payment collaborator sends once a
// payment intent has been captured or declined.
type SettlementMessage struct {
	PaymentID     string `json:"paymentId"`
	Outcome       string `json:"outcome"` // succeeded | failed
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}
