package models

import (
	"time"
)

type RequestStatus string

const (
	RequestOpen      RequestStatus = "OPEN"
	RequestAccepted  RequestStatus = "ACCEPTED"
	RequestExpired   RequestStatus = "EXPIRED"
	RequestCancelled RequestStatus = "CANCELLED"
)

type QuoteStatus string

const (
	QuotePending  QuoteStatus = "PENDING"
	QuoteAccepted QuoteStatus = "ACCEPTED"
	QuoteRejected QuoteStatus = "REJECTED"
	QuoteExpired  QuoteStatus = "EXPIRED"
)

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
}

type CartItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Cart is a requester's reservation of items prior to creating a quote
// request. It carries its own TTL independent of any request.
type Cart struct {
	RequesterID string     `json:"requester_id"`
	Items       []CartItem `json:"items"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// QuoteRequest is a requester's open call for delivery offers. The item
// snapshot is immutable after creation; only status changes afterwards.
type QuoteRequest struct {
	ID           string        `json:"id"`
	RequesterID  string        `json:"requester_id"`
	Items        []CartItem    `json:"items"`
	ItemsTotal   float64       `json:"items_total"`
	Destination  Address       `json:"destination"`
	Instructions string        `json:"instructions,omitempty"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// Quote is a provider's binding offer against a request. At most one quote
// per (request, provider) may be PENDING at a time.
type Quote struct {
	ID            string      `json:"id"`
	RequestID     string      `json:"request_id"`
	ProviderID    string      `json:"provider_id"`
	ProviderName  string      `json:"provider_name,omitempty"`
	ProviderPhone string      `json:"provider_phone,omitempty"`
	Fee           float64     `json:"fee"`
	ETAMinutes    int         `json:"eta_minutes"`
	Notes         string      `json:"notes,omitempty"`
	Status        QuoteStatus `json:"status"`
	SubmittedAt   time.Time   `json:"submitted_at"`
	ExpiresAt     time.Time   `json:"expires_at"`
}

// Order is created exactly once when a quote is accepted. The confirmation
// code is single-use: it is cleared when the DELIVERED transition consumes it.
type Order struct {
	ID               string          `json:"id"`
	RequestID        string          `json:"request_id"`
	QuoteID          string          `json:"quote_id"`
	RequesterID      string          `json:"requester_id"`
	ProviderID       string          `json:"provider_id"`
	ProviderName     string          `json:"provider_name,omitempty"`
	ProviderPhone    string          `json:"provider_phone,omitempty"`
	Items            []CartItem      `json:"items"`
	ItemsTotal       float64         `json:"items_total"`
	DeliveryFee      float64         `json:"delivery_fee"`
	Destination      Address         `json:"destination"`
	ConfirmationCode string          `json:"-"`
	Rating           int             `json:"rating,omitempty"`
	Feedback         string          `json:"feedback,omitempty"`
	Status           OrderState      `json:"status"`
	Timeline         []TimelineEntry `json:"timeline"`
	CreatedAt        time.Time       `json:"created_at"`
	DeliveredAt      *time.Time      `json:"delivered_at,omitempty"`
}

type TimelineEntry struct {
	State     OrderState `json:"state"`
	Timestamp *time.Time `json:"timestamp"`
	Completed bool       `json:"completed"`
}

func ItemsTotal(items []CartItem) float64 {
	var total float64
	for _, item := range items {
		total += float64(item.Quantity) * item.UnitPrice
	}
	return total
}
