package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

var numberToken = regexp.MustCompile(`\d[\d.,]*`)

// priceStrategy is one candidate location for a price.
type priceStrategy func(doc *goquery.Document) (float64, bool)

// selectorPrice reads the first non-empty text under selector as a price.
func selectorPrice(selector string) priceStrategy {
	return func(doc *goquery.Document) (float64, bool) {
		var (
			price float64
			found bool
		)
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if text == "" {
				return true
			}
			price, found = ParsePrice(text)
			return false
		})
		return price, found
	}
}

// firstPrice runs the strategies in order and returns the first resolved value.
func firstPrice(doc *goquery.Document, strategies []priceStrategy) (float64, bool) {
	for _, strategy := range strategies {
		if price, ok := strategy(doc); ok {
			return price, true
		}
	}
	return 0, false
}

// ParsePrice parses the first numeric token of text as a monetary amount.
// Thousands separators are dropped; both "." and "," are accepted as the
// decimal separator.
func ParsePrice(text string) (float64, bool) {
	token := numberToken.FindString(text)
	token = strings.TrimRight(token, ".,")
	if token == "" {
		return 0, false
	}

	d, err := decimal.NewFromString(normalizeSeparators(token))
	if err != nil || d.IsNegative() {
		return 0, false
	}
	return d.Round(2).InexactFloat64(), true
}

// normalizeSeparators rewrites token so that "." is the only, decimal, separator.
func normalizeSeparators(token string) string {
	lastDot := strings.LastIndex(token, ".")
	lastComma := strings.LastIndex(token, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Whichever comes last is the decimal separator.
		if lastComma > lastDot {
			token = strings.ReplaceAll(token, ".", "")
			return strings.Replace(token, ",", ".", 1)
		}
		return strings.ReplaceAll(token, ",", "")
	case lastComma >= 0:
		if strings.Count(token, ",") > 1 || len(token)-lastComma-1 == 3 {
			return strings.ReplaceAll(token, ",", "")
		}
		return strings.Replace(token, ",", ".", 1)
	case lastDot >= 0:
		if strings.Count(token, ".") > 1 {
			return strings.ReplaceAll(token, ".", "")
		}
		return token
	default:
		return token
	}
}
