package domain

// NotificationKind discriminates the notification events sent to subscribers.
type NotificationKind string

const (
	NotificationWelcome           NotificationKind = "WELCOME"
	NotificationBackInStock       NotificationKind = "BACK_IN_STOCK"
	NotificationNewLowestPrice    NotificationKind = "NEW_LOWEST_PRICE"
	NotificationDiscountThreshold NotificationKind = "DISCOUNT_THRESHOLD_MET"
)

// ProductInfo holds what a message template needs to describe an item.
type ProductInfo struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Image string `json:"image,omitempty"`
}

// NotificationEvent is a classified change addressed to a set of recipients.
type NotificationEvent struct {
	Kind       NotificationKind `json:"kind"`
	Product    ProductInfo      `json:"product"`
	Recipients []string         `json:"recipients"`
}

// EmailMessage is a rendered notification ready for the mail collaborator.
type EmailMessage struct {
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
}
