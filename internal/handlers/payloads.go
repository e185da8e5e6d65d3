package handlers

import (
	"strings"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/services"
)

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Recipient:  strings.TrimSpace(p.Recipient),
		Line1:      strings.TrimSpace(p.Line1),
		Line2:      trimmedPtr(p.Line2),
		City:       strings.TrimSpace(p.City),
		State:      trimmedPtr(p.State),
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(p.Country)),
		Phone:      trimmedPtr(p.Phone),
	}
}

func newAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	SellerID  string `json:"sellerId,omitempty"`
	LineTotal int64  `json:"lineTotal"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	BuyerID           string             `json:"buyerId"`
	Status            string             `json:"status"`
	Currency          string             `json:"currency"`
	Subtotal          int64              `json:"subtotal"`
	Discount          int64              `json:"discount"`
	Total             int64              `json:"total"`
	CouponCode        *string            `json:"couponCode,omitempty"`
	TrackingNumber    *string            `json:"trackingNumber,omitempty"`
	EstimatedDelivery string             `json:"estimatedDelivery,omitempty"`
	Items             []orderItemPayload `json:"items"`
	ShippingAddress   addressPayload     `json:"shippingAddress"`
	CreatedAt         string             `json:"createdAt,omitempty"`
	UpdatedAt         string             `json:"updatedAt,omitempty"`
}

func newOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			SellerID:  item.SellerID,
			LineTotal: item.LineTotal(),
		})
	}
	payload := orderPayload{
		ID:              order.ID,
		BuyerID:         order.BuyerID,
		Status:          string(order.Status),
		Currency:        strings.ToUpper(order.Currency),
		Subtotal:        order.Subtotal,
		Discount:        order.Discount,
		Total:           order.Total,
		CouponCode:      order.CouponCode,
		TrackingNumber:  order.TrackingNumber,
		Items:           items,
		ShippingAddress: newAddressPayload(order.ShippingAddress),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	if order.EstimatedDelivery != nil {
		payload.EstimatedDelivery = formatTime(*order.EstimatedDelivery)
	}
	return payload
}

type historyEntryPayload struct {
	Status    string  `json:"status"`
	ChangedAt string  `json:"changedAt"`
	Notes     *string `json:"notes,omitempty"`
	ActorKind string  `json:"actorKind"`
	ActorID   string  `json:"actorId,omitempty"`
}

func newHistoryPayload(history []services.StatusTransition) []historyEntryPayload {
	entries := make([]historyEntryPayload, 0, len(history))
	for _, entry := range history {
		entries = append(entries, historyEntryPayload{
			Status:    string(entry.Status),
			ChangedAt: formatTime(entry.ChangedAt),
			Notes:     entry.Notes,
			ActorKind: string(entry.Actor.Kind),
			ActorID:   entry.Actor.ID,
		})
	}
	return entries
}

type paymentPayload struct {
	IntentID     string `json:"intentId"`
	Provider     string `json:"provider"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	Attempt      int    `json:"attempt"`
	Reused       bool   `json:"reused"`
}

func newPaymentPayload(result services.IntentResult) paymentPayload {
	return paymentPayload{
		IntentID:     result.Intent.ID,
		Provider:     result.Intent.Provider,
		ClientSecret: result.ClientSecret,
		Amount:       result.Intent.Amount,
		Currency:     strings.ToUpper(result.Intent.Currency),
		Status:       string(result.Intent.Status),
		Attempt:      result.Intent.Attempt,
		Reused:       result.Reused,
	}
}

type confirmationPayload struct {
	OrderID      string `json:"orderId"`
	Outcome      string `json:"outcome"`
	IntentStatus string `json:"intentStatus,omitempty"`
	OrderStatus  string `json:"orderStatus,omitempty"`
	Changed      bool   `json:"changed"`
}

func newConfirmationPayload(result services.ConfirmationResult) confirmationPayload {
	return confirmationPayload{
		OrderID:      result.OrderID,
		Outcome:      string(result.Outcome),
		IntentStatus: string(result.IntentStatus),
		OrderStatus:  string(result.OrderStatus),
		Changed:      result.Changed,
	}
}
