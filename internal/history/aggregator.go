// Package history maintains the price series of tracked items and the
// statistics derived from it.
package history

import (
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
)

// Summary holds the statistics derived from a price history.
type Summary struct {
	Lowest  float64
	Highest float64
	Average float64
}

// Append returns a copy of history with one more observation. An observation
// older than the last recorded one is stamped with the last timestamp so the
// series stays non-decreasing in time.
func Append(history []domain.PricePoint, price float64, at time.Time) []domain.PricePoint {
	out := make([]domain.PricePoint, len(history), len(history)+1)
	copy(out, history)

	if n := len(out); n > 0 && at.Before(out[n-1].ObservedAt) {
		at = out[n-1].ObservedAt
	}
	return append(out, domain.PricePoint{Price: price, ObservedAt: at})
}

// Stats computes lowest, highest and average price over the whole history.
// The mean is an unweighted sum/count and does not depend on order.
func Stats(history []domain.PricePoint) Summary {
	if len(history) == 0 {
		return Summary{}
	}

	s := Summary{Lowest: history[0].Price, Highest: history[0].Price}
	sum := decimal.Zero
	for _, p := range history {
		if p.Price < s.Lowest {
			s.Lowest = p.Price
		}
		if p.Price > s.Highest {
			s.Highest = p.Price
		}
		sum = sum.Add(decimal.NewFromFloat(p.Price))
	}
	s.Average = sum.Div(decimal.NewFromInt(int64(len(history)))).InexactFloat64()
	return s
}

// Merge folds a fresh snapshot into the existing item (nil for a new one) and
// returns the updated record. Identity, creation time and subscribers of the
// existing item are preserved.
func Merge(existing *domain.TrackedItem, snap domain.ProductSnapshot, at time.Time) domain.TrackedItem {
	var item domain.TrackedItem
	if existing != nil {
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
		item.PriceHistory = existing.PriceHistory
		item.Subscribers = append([]domain.Subscriber(nil), existing.Subscribers...)
	}

	item.URL = snap.URL
	item.Currency = snap.Currency
	item.CurrencyCode = snap.CurrencyCode
	item.Title = snap.Title
	item.Image = snap.Image
	item.CurrentPrice = snap.CurrentPrice
	item.OriginalPrice = snap.OriginalPrice
	item.DiscountRate = snap.DiscountRate
	item.Description = snap.Description
	item.Category = snap.Category
	item.ReviewsCount = snap.ReviewsCount
	item.Stars = snap.Stars
	item.IsOutOfStock = snap.IsOutOfStock

	item.PriceHistory = Append(item.PriceHistory, snap.CurrentPrice, at)
	stats := Stats(item.PriceHistory)
	item.LowestPrice = stats.Lowest
	item.HighestPrice = stats.Highest
	item.AveragePrice = stats.Average
	item.UpdatedAt = at
	return item
}
