package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"pricewatch/internal/domain"
)

const maxSubjectTitle = 20

var subjects = map[domain.NotificationKind]string{
	domain.NotificationWelcome:           "You are now tracking the price of %s",
	domain.NotificationBackInStock:       "%s is now back in stock!",
	domain.NotificationNewLowestPrice:    "Lowest Price Alert for %s",
	domain.NotificationDiscountThreshold: "Discount Alert for %s",
}

var bodies = template.Must(template.New("mail").Parse(`
{{define "WELCOME"}}<div>
  <h2>Welcome to pricewatch</h2>
  <p>You are now tracking <a href="{{.URL}}">{{.Title}}</a>.</p>
  {{if .Image}}<img src="{{.Image}}" alt="{{.Title}}" style="max-width:240px">{{end}}
  <p>We will email you when it comes back in stock, reaches a new lowest price or a large discount.</p>
</div>{{end}}
{{define "BACK_IN_STOCK"}}<div>
  <h4>Hey, <a href="{{.URL}}">{{.Title}}</a> is back in stock!</h4>
  <p>Grab it before it runs out again.</p>
</div>{{end}}
{{define "NEW_LOWEST_PRICE"}}<div>
  <h4>Hey, <a href="{{.URL}}">{{.Title}}</a> has reached its lowest price ever!</h4>
  <p>Buy it now before the price goes back up.</p>
</div>{{end}}
{{define "DISCOUNT_THRESHOLD_MET"}}<div>
  <h4>Hey, <a href="{{.URL}}">{{.Title}}</a> is now available at a big discount.</h4>
  <p>Check it out before the deal ends.</p>
</div>{{end}}
`))

// Render builds the email for kind about product.
func Render(kind domain.NotificationKind, product domain.ProductInfo) (domain.EmailMessage, error) {
	subject, ok := subjects[kind]
	if !ok {
		return domain.EmailMessage{}, fmt.Errorf("invalid notification type %q", kind)
	}

	var body bytes.Buffer
	if err := bodies.ExecuteTemplate(&body, string(kind), product); err != nil {
		return domain.EmailMessage{}, fmt.Errorf("render %s body: %w", kind, err)
	}

	return domain.EmailMessage{
		Subject:  fmt.Sprintf(subject, shortenTitle(product.Title)),
		HTMLBody: body.String(),
	}, nil
}

func shortenTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= maxSubjectTitle {
		return title
	}
	return string(runes[:maxSubjectTitle]) + "..."
}
