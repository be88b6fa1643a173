package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Bullet-point feature list first, narrative block second.
var descriptionSelectors = []string{
	".a-unordered-list .a-list-item",
	".a-expander-content p",
}

func resolveDescription(doc *goquery.Document) string {
	for _, selector := range descriptionSelectors {
		elements := doc.Find(selector)
		if elements.Length() == 0 {
			continue
		}
		lines := make([]string, 0, elements.Length())
		elements.Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				lines = append(lines, text)
			}
		})
		if len(lines) > 0 {
			return strings.Join(lines, "\n")
		}
	}
	return ""
}
