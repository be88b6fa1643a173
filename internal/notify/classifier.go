package notify

import "pricewatch/internal/domain"

// DefaultDiscountThreshold is the fraction of the original price a discount
// must reach before subscribers are told about it.
const DefaultDiscountThreshold = 0.35

// Classify decides which event, if any, the transition from prev to snap
// warrants. prev is nil on first registration. The first matching rule wins:
// welcome, back in stock, new lowest price, discount threshold.
func Classify(prev *domain.TrackedItem, snap domain.ProductSnapshot, threshold float64) (domain.NotificationKind, bool) {
	switch {
	case prev == nil:
		return domain.NotificationWelcome, true
	case prev.IsOutOfStock && !snap.IsOutOfStock:
		return domain.NotificationBackInStock, true
	case snap.CurrentPrice < prev.LowestPrice:
		return domain.NotificationNewLowestPrice, true
	case discountReached(snap, threshold):
		return domain.NotificationDiscountThreshold, true
	default:
		return "", false
	}
}

func discountReached(snap domain.ProductSnapshot, threshold float64) bool {
	if snap.OriginalPrice <= 0 {
		return false
	}
	return (snap.OriginalPrice-snap.CurrentPrice)/snap.OriginalPrice >= threshold
}
