package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgmodels "github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/logging"
	"reminder-service/internal/models"
	"reminder-service/internal/secrets"
)

type tokenSource struct {
	mu    sync.Mutex
	token string
	calls int
}

func (s *tokenSource) Fetch(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.token, nil
}

type botAPIRequest struct {
	path        string
	chatID      string
	text        string
	parseMode   string
	replyMarkup string
}

// fakeBotAPI answers sendMessage like the Telegram Bot API.
func fakeBotAPI(t *testing.T, status int, body string) (*httptest.Server, *[]botAPIRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []botAPIRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		mu.Lock()
		reqs = append(reqs, botAPIRequest{
			path:        r.URL.Path,
			chatID:      r.FormValue("chat_id"),
			text:        r.FormValue("text"),
			parseMode:   r.FormValue("parse_mode"),
			replyMarkup: r.FormValue("reply_markup"),
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

const okResponse = `{"ok":true,"result":{"message_id":1,"date":1717230000,"chat":{"id":100,"type":"private"},"text":"hi"}}`

func TestTelegramSend(t *testing.T) {
	srv, reqs := fakeBotAPI(t, http.StatusOK, okResponse)
	src := &tokenSource{token: "123:abc"}
	tg := NewTelegram(src, TelegramConfig{APIURL: srv.URL, RateLimit: 100, SecretTTL: time.Minute}, logging.NewNop())

	err := tg.Send(context.Background(), "100", models.Message{
		Text:      "<b>hello</b>",
		ParseMode: "HTML",
		Buttons:   []models.LinkButton{{Label: "open", URL: "https://connpass.com/event/1/"}},
	})
	require.NoError(t, err)

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, "/bot123:abc/sendMessage", got.path)
	assert.Equal(t, "100", got.chatID)
	assert.Equal(t, "<b>hello</b>", got.text)
	assert.Equal(t, "HTML", got.parseMode)
	assert.Contains(t, got.replyMarkup, "https://connpass.com/event/1/")

	require.NoError(t, tg.Send(context.Background(), "100", models.TextMessage("again")))
	assert.Equal(t, 1, src.calls, "token comes from the cache within its TTL")
}

func TestTelegramRebuildsClientAfterTokenRotation(t *testing.T) {
	srv, reqs := fakeBotAPI(t, http.StatusOK, okResponse)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	src := &tokenSource{token: "1:old"}
	tg := NewTelegram(src, TelegramConfig{
		APIURL:    srv.URL,
		RateLimit: 100,
		SecretTTL: 5 * time.Minute,
		Now:       func() time.Time { return now },
	}, logging.NewNop())

	require.NoError(t, tg.Send(context.Background(), "100", models.TextMessage("a")))
	src.token = "2:new"
	now = now.Add(6 * time.Minute)
	require.NoError(t, tg.Send(context.Background(), "100", models.TextMessage("b")))

	require.Len(t, *reqs, 2)
	assert.True(t, strings.HasPrefix((*reqs)[0].path, "/bot1:old/"))
	assert.True(t, strings.HasPrefix((*reqs)[1].path, "/bot2:new/"))
}

func TestTelegramSendFailure(t *testing.T) {
	srv, _ := fakeBotAPI(t, http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
	tg := NewTelegram(&tokenSource{token: "123:abc"}, TelegramConfig{APIURL: srv.URL, RateLimit: 100, SecretTTL: time.Minute}, logging.NewNop())

	err := tg.Send(context.Background(), "100", models.TextMessage("hi"))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindDelivery, apperrors.KindOf(err))
}

func TestTelegramTokenUnavailable(t *testing.T) {
	tg := NewTelegram(secrets.EnvSource{}, TelegramConfig{SecretTTL: time.Minute}, logging.NewNop())
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	err := tg.Send(context.Background(), "100", models.TextMessage("hi"))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindDelivery, apperrors.KindOf(err))
}

func TestChatID(t *testing.T) {
	assert.Equal(t, int64(-1001234), chatID("-1001234"))
	assert.Equal(t, "@channel", chatID("@channel"))
}

func decodeUpdate(t *testing.T, raw string) *tgmodels.Update {
	t.Helper()
	var u tgmodels.Update
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	return &u
}

func TestInboundFromUpdate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want models.InboundEvent
		ok   bool
	}{
		{
			name: "start is follow",
			raw:  `{"update_id":1,"message":{"message_id":1,"date":1,"chat":{"id":100,"type":"private"},"text":"/start"}}`,
			want: models.FollowEvent{Recipient: "100"},
			ok:   true,
		},
		{
			name: "text message",
			raw:  `{"update_id":2,"message":{"message_id":2,"date":1,"chat":{"id":100,"type":"private"},"text":"/register"}}`,
			want: models.MessageEvent{Recipient: "100", Text: "/register"},
			ok:   true,
		},
		{
			name: "blocked is unfollow",
			raw: `{"update_id":3,"my_chat_member":{"chat":{"id":100,"type":"private"},"from":{"id":100,"is_bot":false,"first_name":"A"},"date":1,` +
				`"old_chat_member":{"status":"member","user":{"id":1,"is_bot":true,"first_name":"bot"}},` +
				`"new_chat_member":{"status":"kicked","user":{"id":1,"is_bot":true,"first_name":"bot"},"until_date":0}}}`,
			want: models.UnfollowEvent{Recipient: "100"},
			ok:   true,
		},
		{
			name: "photo without text",
			raw:  `{"update_id":4,"message":{"message_id":3,"date":1,"chat":{"id":100,"type":"private"}}}`,
			ok:   false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := InboundFromUpdate(decodeUpdate(t, tc.raw))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIsStartCommand(t *testing.T) {
	assert.True(t, isStartCommand("/start"))
	assert.True(t, isStartCommand("/start@reminder_bot payload"))
	assert.False(t, isStartCommand("/settings"))
	assert.False(t, isStartCommand("  "))
}
