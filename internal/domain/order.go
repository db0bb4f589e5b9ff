package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/sakashimaa/go-pet-project/stock/pkg/utils"
)

const EventOrderCreated = "order_created"

var validate = utils.NewValidator()

// ProductID accepts both 42 and "42" on the wire.
type ProductID int64

func (id *ProductID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}

	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid product id %s", b)
	}

	*id = ProductID(v)
	return nil
}

type LineItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}

type OrderEvent struct {
	OrderID  string     `json:"orderId"`
	ClientID string     `json:"clientId"`
	Items    []LineItem `json:"products"`
}

type orderEnvelope struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

type orderLineDTO struct {
	ProductID *ProductID `json:"productId" validate:"required"`
	Quantity  int64      `json:"quantity" validate:"gt=0"`
}

type orderDataDTO struct {
	OrderID  string         `json:"orderId" validate:"required"`
	ClientID string         `json:"clientId" validate:"required"`
	Products []orderLineDTO `json:"products" validate:"required,min=1,dive"`
}

// DecodeOrderEvent parses and validates an inbound order envelope.
// Events other than order_created yield ErrUnsupportedEvent; anything unusable wraps ErrMalformedEvent.
func DecodeOrderEvent(raw []byte) (*OrderEvent, error) {
	var env orderEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(env); err != nil {
		return nil, &ValidationError{Fields: utils.FormatValidationError(err)}
	}

	if env.Event != EventOrderCreated {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, env.Event)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}

	var data orderDataDTO
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if err := validate.Struct(data); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}

		return nil, &ValidationError{Fields: utils.FormatValidationError(err)}
	}

	event := &OrderEvent{
		OrderID:  data.OrderID,
		ClientID: data.ClientID,
		Items:    make([]LineItem, 0, len(data.Products)),
	}
	for _, p := range data.Products {
		event.Items = append(event.Items, LineItem{
			ProductID: int64(*p.ProductID),
			Quantity:  p.Quantity,
		})
	}

	return event, nil
}
