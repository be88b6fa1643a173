package domain

import (
	"strings"
	"time"
)

// PricePoint is one observed price of a tracked item.
type PricePoint struct {
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// Subscriber is an email address that receives notifications for an item.
type Subscriber struct {
	Email string `json:"email"`
}

// TrackedItem represents a monitored product listing.
type TrackedItem struct {
	// ID is assigned by the store on first upsert.
	ID string `json:"id"`

	// URL is the unique upsert key of the item.
	URL string `json:"url"`

	Currency      string  `json:"currency"`
	CurrencyCode  string  `json:"currency_code"`
	Title         string  `json:"title"`
	Image         string  `json:"image,omitempty"`
	CurrentPrice  float64 `json:"current_price"`
	OriginalPrice float64 `json:"original_price"`

	// PriceHistory is append-only and ordered by ObservedAt.
	PriceHistory []PricePoint `json:"price_history"`

	// Derived from PriceHistory, never validated against CurrentPrice.
	LowestPrice  float64 `json:"lowest_price"`
	HighestPrice float64 `json:"highest_price"`
	AveragePrice float64 `json:"average_price"`

	DiscountRate float64 `json:"discount_rate"`
	Description  string  `json:"description,omitempty"`
	Category     string  `json:"category"`
	ReviewsCount int     `json:"reviews_count"`
	Stars        float64 `json:"stars"`
	IsOutOfStock bool    `json:"is_out_of_stock"`

	Subscribers []Subscriber `json:"subscribers"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSubscriber reports whether email is already subscribed. Comparison ignores case.
func (t *TrackedItem) HasSubscriber(email string) bool {
	for _, s := range t.Subscribers {
		if strings.EqualFold(s.Email, email) {
			return true
		}
	}
	return false
}

// AddSubscriber appends email unless it is already present and reports whether it was added.
func (t *TrackedItem) AddSubscriber(email string) bool {
	if t.HasSubscriber(email) {
		return false
	}
	t.Subscribers = append(t.Subscribers, Subscriber{Email: email})
	return true
}

// SubscriberEmails returns the subscriber addresses in subscription order.
func (t *TrackedItem) SubscriberEmails() []string {
	emails := make([]string, 0, len(t.Subscribers))
	for _, s := range t.Subscribers {
		emails = append(emails, s.Email)
	}
	return emails
}

// ProductInfo returns the minimal facts needed to render a notification.
func (t *TrackedItem) ProductInfo() ProductInfo {
	return ProductInfo{Title: t.Title, URL: t.URL, Image: t.Image}
}
