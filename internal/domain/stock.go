package domain

import "time"

type StockRecord struct {
	ProductID int64     `db:"id" json:"productId"`
	Quantity  int64     `db:"stock_quantity" json:"quantity"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationValidated ReservationStatus = ReservationStatus(OutcomeValidated)
	ReservationFailed    ReservationStatus = ReservationStatus(OutcomeFailed)
)

type Reservation struct {
	OrderID   string            `db:"order_id" json:"orderId"`
	ClientID  string            `db:"client_id" json:"clientId"`
	Status    ReservationStatus `db:"status" json:"status"`
	Reason    string            `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time         `db:"updated_at" json:"updatedAt"`
}

// Outcome returns the outcome recorded for a completed reservation.
func (r *Reservation) Outcome() (OutcomeEvent, bool) {
	if r.Status == ReservationPending {
		return OutcomeEvent{}, false
	}

	return OutcomeEvent{
		Kind:     OutcomeKind(r.Status),
		OrderID:  r.OrderID,
		ClientID: r.ClientID,
	}, true
}
