package domain

// ProductSnapshot is the result of extracting one fetched listing page.
// It is merged into a TrackedItem and never stored on its own.
type ProductSnapshot struct {
	URL           string  `json:"url"`
	Currency      string  `json:"currency"`
	CurrencyCode  string  `json:"currency_code"`
	Title         string  `json:"title"`
	Image         string  `json:"image,omitempty"`
	CurrentPrice  float64 `json:"current_price"`
	OriginalPrice float64 `json:"original_price"`
	DiscountRate  float64 `json:"discount_rate"`
	Description   string  `json:"description,omitempty"`
	Category      string  `json:"category"`
	ReviewsCount  int     `json:"reviews_count"`
	Stars         float64 `json:"stars"`
	IsOutOfStock  bool    `json:"is_out_of_stock"`
}
