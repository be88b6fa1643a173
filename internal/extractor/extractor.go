// Package extractor turns a fetched listing page into a domain.ProductSnapshot.
package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/internal/domain"
)

// Values reported for facts the extractor does not scrape yet.
const (
	DefaultCategory     = "Category"
	DefaultReviewsCount = 80
	DefaultStars        = 4.8

	DefaultCurrency     = "$"
	DefaultCurrencyCode = "USD"

	outOfStockText = "currently unavailable"
)

var currentPriceStrategies = []priceStrategy{
	selectorPrice(".priceToPay span.a-price-whole"),
	selectorPrice("a.size.base.a-color-price"),
	selectorPrice(".a-button-selected .a-color-base"),
}

var originalPriceStrategies = []priceStrategy{
	selectorPrice("#priceblock_ourprice"),
	selectorPrice(".a-price.a-text-price span.a-offscreen"),
	selectorPrice("#listPrice"),
	selectorPrice("#priceblock_dealprice"),
	selectorPrice(".a-size-base.a-color-price"),
}

// Longest symbols first so "R$" wins over "$".
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"R$", "BRL"},
	{"C$", "CAD"},
	{"A$", "AUD"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
}

var imageContainers = []string{"#imgBlkFront", "#landingImage"}

// Result is the outcome of a successful extraction. Diagnostics lists the
// optional facts that could not be resolved.
type Result struct {
	Snapshot    domain.ProductSnapshot
	Diagnostics []string
}

// Extract parses html into a snapshot of the listing at url. It fails with
// domain.ErrExtraction when the title or every price candidate is missing.
func Extract(url string, html []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("%w: parse document: %w", domain.ErrExtraction, err)
	}

	var res Result
	diag := func(format string, args ...any) {
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf(format, args...))
	}

	title := strings.TrimSpace(doc.Find("#productTitle").First().Text())
	if title == "" {
		return Result{}, fmt.Errorf("%w: product title not found", domain.ErrExtraction)
	}

	current, hasCurrent := firstPrice(doc, currentPriceStrategies)
	original, hasOriginal := firstPrice(doc, originalPriceStrategies)
	switch {
	case !hasCurrent && !hasOriginal:
		return Result{}, fmt.Errorf("%w: no price candidate resolved", domain.ErrExtraction)
	case !hasCurrent:
		current = original
		diag("current price missing, using original price")
	case !hasOriginal:
		original = current
		diag("original price missing, using current price")
	}

	symbol, code, ok := resolveCurrency(doc)
	if !ok {
		diag("currency symbol not resolved, defaulting to %s", DefaultCurrency)
	}

	image, err := resolveImage(doc)
	if err != nil {
		diag("image: %v", err)
	}

	description := resolveDescription(doc)
	if description == "" {
		diag("description not found")
	}

	res.Snapshot = domain.ProductSnapshot{
		URL:           url,
		Currency:      symbol,
		CurrencyCode:  code,
		Title:         title,
		Image:         image,
		CurrentPrice:  current,
		OriginalPrice: original,
		DiscountRate:  resolveDiscount(doc),
		Description:   description,
		Category:      DefaultCategory,
		ReviewsCount:  DefaultReviewsCount,
		Stars:         DefaultStars,
		IsOutOfStock:  resolveOutOfStock(doc),
	}
	return res, nil
}

func resolveCurrency(doc *goquery.Document) (symbol, code string, ok bool) {
	text := strings.TrimSpace(doc.Find(".a-price-symbol").First().Text())
	for _, c := range currencySymbols {
		if strings.HasPrefix(text, c.symbol) {
			return c.symbol, c.code, true
		}
	}
	return DefaultCurrency, DefaultCurrencyCode, false
}

func resolveOutOfStock(doc *goquery.Document) bool {
	sel := doc.Find("#availability span").First()
	if sel.Length() == 0 {
		sel = doc.Find("#availability").First()
	}
	text := strings.ToLower(strings.Join(strings.Fields(sel.Text()), " "))
	return strings.TrimSuffix(text, ".") == outOfStockText
}

// resolveImage returns the first URL of the dynamic image map, keeping document order.
func resolveImage(doc *goquery.Document) (string, error) {
	var raw string
	for _, selector := range imageContainers {
		if v, ok := doc.Find(selector).First().Attr("data-a-dynamic-image"); ok && strings.TrimSpace(v) != "" {
			raw = v
			break
		}
	}
	if raw == "" {
		return "", fmt.Errorf("no dynamic image map")
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("decode image map: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return "", fmt.Errorf("image map is not an object")
	}
	if !dec.More() {
		return "", fmt.Errorf("image map is empty")
	}
	key, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("decode image map: %w", err)
	}
	url, _ := key.(string)
	return url, nil
}

func resolveDiscount(doc *goquery.Document) float64 {
	text := doc.Find(".savingsPercentage").First().Text()
	text = strings.NewReplacer("-", "", "%", "").Replace(strings.TrimSpace(text))
	rate, ok := ParsePrice(text)
	if !ok {
		return 0
	}
	return rate
}
