package providers

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/logging"
	"reminder-service/internal/models"
	"reminder-service/internal/secrets"
)

// BotTokenKey is the secret key of the Telegram bot token.
const BotTokenKey = "telegram-bot-token"

type TelegramConfig struct {
	// APIURL overrides the Bot API server, empty for api.telegram.org.
	APIURL    string
	RateLimit int
	SecretTTL time.Duration
	// Now is the clock of the token cache, time.Now when nil.
	Now func() time.Time
}

// Telegram sends chat messages through the Bot API. It owns the cache of
// the bot token and rebuilds the client when the token rotates.
type Telegram struct {
	tokens  *secrets.Cache
	limiter *rate.Limiter
	apiURL  string
	logger  *logging.Logger

	mu    sync.Mutex
	token string
	bot   *bot.Bot
}

func NewTelegram(source secrets.Source, cfg TelegramConfig, logger *logging.Logger) *Telegram {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 25
	}
	return &Telegram{
		tokens:  secrets.NewCache(source, cfg.SecretTTL, cfg.Now),
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimit)), cfg.RateLimit),
		apiURL:  cfg.APIURL,
		logger:  logger,
	}
}

// Send delivers msg to the chat identified by recipientID.
func (t *Telegram) Send(ctx context.Context, recipientID string, msg models.Message) error {
	fields := map[string]any{"recipient_id": recipientID}

	// Check rate limit
	if err := t.limiter.Wait(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.KindDelivery, "telegram.rate_limit", fields)
	}

	b, err := t.client(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindDelivery, "telegram.client", fields)
	}

	params := &bot.SendMessageParams{
		ChatID: chatID(recipientID),
		Text:   msg.Text,
	}
	if msg.ParseMode != "" {
		params.ParseMode = tgmodels.ParseMode(msg.ParseMode)
	}
	if len(msg.Buttons) > 0 {
		params.ReplyMarkup = inlineKeyboard(msg.Buttons)
	}

	if _, err := b.SendMessage(ctx, params); err != nil {
		if isUnauthorized(err) {
			// token was probably rotated
			t.tokens.Invalidate(BotTokenKey)
		}
		return apperrors.Wrap(err, apperrors.KindDelivery, "telegram.send_message", fields)
	}
	t.logger.Debugf("Telegram message sent to chat %s", recipientID)
	return nil
}

// client returns a bot for the current token.
func (t *Telegram) client(ctx context.Context) (*bot.Bot, error) {
	token, err := t.tokens.Get(ctx, BotTokenKey)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil && t.token == token {
		return t.bot, nil
	}

	opts := []bot.Option{bot.WithSkipGetMe()}
	if t.apiURL != "" {
		opts = append(opts, bot.WithServerURL(t.apiURL))
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, err
	}
	if t.bot != nil {
		t.logger.Infof("Telegram bot token rotated, client rebuilt")
	}
	t.bot = b
	t.token = token
	return b, nil
}

func chatID(recipientID string) any {
	if id, err := strconv.ParseInt(recipientID, 10, 64); err == nil {
		return id
	}
	return recipientID
}

func inlineKeyboard(buttons []models.LinkButton) *tgmodels.InlineKeyboardMarkup {
	rows := make([][]tgmodels.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		rows = append(rows, []tgmodels.InlineKeyboardButton{{Text: btn.Label, URL: btn.URL}})
	}
	return &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func isUnauthorized(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unauthorized")
}
