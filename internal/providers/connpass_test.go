package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/logging"
	"reminder-service/internal/utils"
	"reminder-service/pkg/connpass"
)

func TestConnpassListUpcomingEvents(t *testing.T) {
	from := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(connpass.Response{
			ResultsReturned:  3,
			ResultsAvailable: 3,
			Events: []connpass.Event{
				{EventID: 2, Title: "later", StartedAt: from.Add(5 * time.Hour), Place: "Shibuya", HashTag: "golang"},
				{EventID: 1, Title: "sooner", StartedAt: from.Add(time.Hour), Series: &connpass.Series{Title: "Go Tokyo"}, Limit: 30},
				{EventID: 2, Title: "later", StartedAt: from.Add(5 * time.Hour)},
			},
		})
	}))
	defer srv.Close()

	c := NewConnpass(ConnpassConfig{BaseURL: srv.URL, Timeout: time.Second, MaxPages: 1}, logging.NewNop())
	events, err := c.ListUpcomingEvents(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, int64(1), events[0].ID)
	assert.Equal(t, []string{"Go Tokyo"}, events[0].Tags)
	assert.Equal(t, 30, events[0].Limit)
	assert.Equal(t, int64(2), events[1].ID)
	assert.Equal(t, "Shibuya", events[1].Location)
	assert.Equal(t, []string{"#golang"}, events[1].Tags)
}

func TestConnpassRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(connpass.Response{})
	}))
	defer srv.Close()

	c := NewConnpass(ConnpassConfig{
		BaseURL: srv.URL,
		Timeout: time.Second,
		Retry:   utils.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
	}, logging.NewNop())
	events, err := c.ListUpcomingEvents(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestConnpassClientErrorIsUpstream(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewConnpass(ConnpassConfig{
		BaseURL: srv.URL,
		Timeout: time.Second,
		Retry:   utils.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
	}, logging.NewNop())
	_, err := c.ListUpcomingEvents(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUpstream, apperrors.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx is not retried")
}

func TestConnpassWarnsWhenPagesAreCapped(t *testing.T) {
	from := time.Now().Add(time.Minute)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(connpass.Response{
			ResultsReturned:  1,
			ResultsAvailable: 500,
			Events:           []connpass.Event{{EventID: int64(n), StartedAt: from.Add(time.Duration(n) * time.Minute)}},
		})
	}))
	defer srv.Close()

	logger := logging.NewNop()
	hook := logtest.NewLocal(logger.Logger)
	c := NewConnpass(ConnpassConfig{BaseURL: srv.URL, Timeout: time.Second, MaxPages: 2}, logger)

	events, err := c.ListUpcomingEvents(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 2)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["max_pages"] == 2 {
			warned = true
		}
	}
	assert.True(t, warned, "truncation is logged")
}
