package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/mmomarket/settlement/internal/models"
)

type OrderInput struct {
	BuyerID    uuid.UUID `json:"buyer_id" validate:"required"`
	ProductID  uuid.UUID `json:"product_id" validate:"required"`
	VariantID  uuid.UUID `json:"variant_id" validate:"required"`
	Quantity   int       `json:"quantity" validate:"required,min=1,max=1000"`
	TotalPrice int64     `json:"total_price" validate:"min=0"`
}

// OrderIntake records purchase intents for the settlement worker.
type OrderIntake struct {
	deps Deps
}

func NewOrderIntake(deps Deps) *OrderIntake {
	return &OrderIntake{deps: deps}
}

// Submit validates the input and stores a pending order.
func (s *OrderIntake) Submit(ctx context.Context, in OrderInput) (*models.Order, error) {
	if err := inputValidator.Struct(in); err != nil {
		return nil, err
	}
	o := &models.Order{
		ID:         uuid.New(),
		BuyerID:    in.BuyerID,
		ProductID:  in.ProductID,
		VariantID:  in.VariantID,
		Quantity:   in.Quantity,
		TotalPrice: in.TotalPrice,
		Status:     models.OrderStatusPending,
		CreatedAt:  s.deps.now(),
	}
	if err := s.deps.Orders.Create(ctx, nil, o); err != nil {
		return nil, err
	}
	return o, nil
}
