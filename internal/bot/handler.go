// Package bot exposes registration and subscription over Telegram.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"pricewatch/internal/domain"
)

// Tracker is the part of the registrar the bot drives.
type Tracker interface {
	Register(ctx context.Context, rawURL string) (*domain.TrackedItem, error)
	Subscribe(ctx context.Context, itemID, email string) (bool, error)
}

// Handler holds dependencies for the Telegram bot handlers.
type Handler struct {
	bot     *tgbot.Bot
	tracker Tracker
	log     logrus.FieldLogger
}

// NewHandler creates the bot and registers its command handlers.
func NewHandler(token string, tracker Tracker, logger logrus.FieldLogger) (*Handler, error) {
	log := logger.WithField("component", "bot_handler")

	h := &Handler{
		tracker: tracker,
		log:     log,
	}

	b, err := tgbot.New(token, tgbot.WithDefaultHandler(h.defaultHandler))
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	h.bot = b

	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.startHandler)
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/track", tgbot.MatchTypePrefix, h.trackHandler)
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/subscribe", tgbot.MatchTypePrefix, h.subscribeHandler)

	log.Info("Telegram bot handler initialized")
	return h, nil
}

// Start polls for updates until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) {
	h.log.Info("Starting Telegram bot polling...")
	h.bot.Start(ctx)
	h.log.Info("Telegram bot polling stopped.")
}

const helpText = "Send me an Amazon product link and I'll track its price.\n" +
	"/track <url> - start tracking a product\n" +
	"/subscribe <item id> <email> - get price alerts by email"

func (h *Handler) startHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	h.reply(ctx, b, update, "Welcome to pricewatch! "+helpText)
}

func (h *Handler) trackHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	_, args := parseCommand(update.Message.Text)
	if len(args) != 1 {
		h.reply(ctx, b, update, "Usage: /track <url>")
		return
	}
	h.track(ctx, b, update, args[0])
}

func (h *Handler) subscribeHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	_, args := parseCommand(update.Message.Text)
	if len(args) != 2 {
		h.reply(ctx, b, update, "Usage: /subscribe <item id> <email>")
		return
	}

	log := h.log.WithFields(logrus.Fields{"chat_id": update.Message.Chat.ID, "item_id": args[0]})
	added, err := h.tracker.Subscribe(ctx, args[0], args[1])
	if err != nil {
		log.WithError(err).Warn("Subscription failed")
		h.reply(ctx, b, update, userMessage(err))
		return
	}
	if !added {
		h.reply(ctx, b, update, args[1]+" is already subscribed to this item.")
		return
	}
	h.reply(ctx, b, update, "Subscribed "+args[1]+". Check your inbox for a confirmation.")
}

// defaultHandler treats a bare link as /track.
func (h *Handler) defaultHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	link, ok := extractLink(update.Message.Text)
	if !ok {
		h.reply(ctx, b, update, helpText)
		return
	}
	h.track(ctx, b, update, link)
}

func (h *Handler) track(ctx context.Context, b *tgbot.Bot, update *models.Update, link string) {
	log := h.log.WithFields(logrus.Fields{"chat_id": update.Message.Chat.ID, "url": link})
	log.Info("Tracking request")

	item, err := h.tracker.Register(ctx, link)
	if err != nil {
		log.WithError(err).Warn("Registration failed")
		h.reply(ctx, b, update, userMessage(err))
		return
	}
	h.reply(ctx, b, update, formatItem(item))
}

func (h *Handler) reply(ctx context.Context, b *tgbot.Bot, update *models.Update, text string) {
	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to send message")
	}
}

// parseCommand splits "/cmd@botname a b" into "/cmd" and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return cmd, fields[1:]
}

// extractLink returns the first http(s) token of text.
func extractLink(text string) (string, bool) {
	for _, f := range strings.Fields(text) {
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			return f, true
		}
	}
	return "", false
}

func formatItem(item *domain.TrackedItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", item.Title)
	fmt.Fprintf(&sb, "Current price: %s%.2f\n", item.Currency, item.CurrentPrice)
	fmt.Fprintf(&sb, "Lowest: %s%.2f  Highest: %s%.2f  Average: %s%.2f\n",
		item.Currency, item.LowestPrice, item.Currency, item.HighestPrice, item.Currency, item.AveragePrice)
	if item.IsOutOfStock {
		sb.WriteString("Currently out of stock\n")
	}
	fmt.Fprintf(&sb, "Item id: %s\nUse /subscribe %s <email> for alerts.", item.ID, item.ID)
	return sb.String()
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "That doesn't look like a supported product link or email address."
	case errors.Is(err, domain.ErrNotFound):
		return "I couldn't find that item."
	case errors.Is(err, domain.ErrFetch):
		return "I couldn't reach the product page. Please try again later."
	case errors.Is(err, domain.ErrExtraction):
		return "I couldn't read the price from that page."
	default:
		return "Something went wrong, please try again later."
	}
}
