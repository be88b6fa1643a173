package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/domain"
)

func TestRender_Subjects(t *testing.T) {
	product := domain.ProductInfo{Title: "Kettle", URL: "https://www.amazon.com/dp/K", Image: "https://img/k.jpg"}

	tests := []struct {
		kind domain.NotificationKind
		want string
	}{
		{domain.NotificationWelcome, "You are now tracking the price of Kettle"},
		{domain.NotificationBackInStock, "Kettle is now back in stock!"},
		{domain.NotificationNewLowestPrice, "Lowest Price Alert for Kettle"},
		{domain.NotificationDiscountThreshold, "Discount Alert for Kettle"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			msg, err := Render(tt.kind, product)
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Subject)
			assert.Contains(t, msg.HTMLBody, `href="https://www.amazon.com/dp/K"`)
		})
	}
}

func TestRender_ShortensLongTitle(t *testing.T) {
	msg, err := Render(domain.NotificationDiscountThreshold, domain.ProductInfo{Title: "Stainless Steel Electric Kettle"})
	require.NoError(t, err)
	assert.Equal(t, "Discount Alert for Stainless Steel Elec...", msg.Subject)
}

func TestRender_EscapesTitle(t *testing.T) {
	msg, err := Render(domain.NotificationBackInStock, domain.ProductInfo{Title: "<script>x</script>", URL: "https://amazon.com/x"})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTMLBody, "<script>")
}

func TestRender_UnknownKind(t *testing.T) {
	_, err := Render("PRICE_WENT_UP", domain.ProductInfo{Title: "Kettle"})
	assert.Error(t, err)
}
