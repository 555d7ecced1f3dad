package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-service/internal/logging"
	"reminder-service/internal/memstore"
	"reminder-service/internal/models"
)

// countingLedger wraps the in-memory ledger, counts calls and can inject
// failures.
type countingLedger struct {
	*memstore.Store
	mu          sync.Mutex
	calls       int
	findErr     error
	createErr   error
	updateErr   error
	createdRecs []models.NotificationRecord
}

func (l *countingLedger) CreateNotification(ctx context.Context, subscriberID string, eventID int64, kind models.ReminderKind) (models.NotificationRecord, error) {
	l.mu.Lock()
	l.calls++
	err := l.createErr
	l.mu.Unlock()
	if err != nil {
		return models.NotificationRecord{}, err
	}
	rec, err := l.Store.CreateNotification(ctx, subscriberID, eventID, kind)
	l.mu.Lock()
	l.createdRecs = append(l.createdRecs, rec)
	l.mu.Unlock()
	return rec, err
}

func (l *countingLedger) FindMostRecentNotification(ctx context.Context, subscriberID string, eventID int64, kind models.ReminderKind) (*models.NotificationRecord, error) {
	l.mu.Lock()
	l.calls++
	err := l.findErr
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return l.Store.FindMostRecentNotification(ctx, subscriberID, eventID, kind)
}

func (l *countingLedger) UpdateNotificationStatus(ctx context.Context, id string, status models.NotificationStatus, errorMessage string) error {
	l.mu.Lock()
	l.calls++
	err := l.updateErr
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return l.Store.UpdateNotificationStatus(ctx, id, status, errorMessage)
}

type sentMessage struct {
	recipient string
	msg       models.Message
}

type fakeChannel struct {
	mu      sync.Mutex
	sent    []sentMessage
	fail    map[string]error
	panicOn map[string]bool
	delay   time.Duration
}

func (c *fakeChannel) Send(ctx context.Context, recipientID string, msg models.Message) error {
	if c.panicOn[recipientID] {
		panic("channel exploded")
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := c.fail[recipientID]; err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{recipient: recipientID, msg: msg})
	return nil
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeRenderer struct{}

func (fakeRenderer) Reminder(event models.Event, kind models.ReminderKind) models.Message {
	return models.TextMessage(fmt.Sprintf("%d:%s", event.ID, kind))
}

var now = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func oneDayRule() []models.ReminderRule {
	return []models.ReminderRule{{Value: 1, Unit: models.UnitDays}}
}

func newService(ledger Ledger, ch Channel) *Service {
	return New(ledger, ch, fakeRenderer{}, logging.NewNop(), Config{
		MaxWorkers:    4,
		SendTimeout:   time.Second,
		LedgerTimeout: time.Second,
		Location:      time.UTC,
	})
}

func newLedger() *countingLedger {
	return &countingLedger{Store: memstore.New(memstore.WithClock(func() time.Time { return now }))}
}

func TestDispatchSendsDueReminder(t *testing.T) {
	ledger := newLedger()
	ch := &fakeChannel{}
	svc := newService(ledger, ch)

	subs := []models.Subscriber{{ID: "u1", ChannelRecipientID: "100", ReminderEnabled: true, ReminderRules: oneDayRule()}}
	events := []models.Event{{ID: 42, StartTime: now.Add(24*time.Hour + 10*time.Minute)}}

	summary := svc.Dispatch(context.Background(), now, subs, events)

	assert.Equal(t, models.RunSummary{Attempted: 1, Sent: 1}, summary)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "100", ch.sent[0].recipient)
	assert.Equal(t, "42:1day", ch.sent[0].msg.Text)

	rec, err := ledger.Store.FindMostRecentNotification(context.Background(), "u1", 42, "1day")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusSent, rec.Status)
}

func TestDispatchSkipsAlreadySent(t *testing.T) {
	ledger := newLedger()
	ctx := context.Background()
	rec, err := ledger.Store.CreateNotification(ctx, "u1", 42, "1day")
	require.NoError(t, err)
	require.NoError(t, ledger.Store.UpdateNotificationStatus(ctx, rec.ID, models.StatusSent, ""))

	ch := &fakeChannel{}
	svc := newService(ledger, ch)
	subs := []models.Subscriber{{ID: "u1", ChannelRecipientID: "100", ReminderEnabled: true, ReminderRules: oneDayRule()}}
	events := []models.Event{{ID: 42, StartTime: now.Add(24*time.Hour + 10*time.Minute)}}

	summary := svc.Dispatch(ctx, now, subs, events)

	assert.Equal(t, models.RunSummary{Skipped: 1}, summary)
	assert.Zero(t, ch.count())
	assert.Empty(t, ledger.createdRecs)
}

func TestDispatchIsIdempotentAcrossRuns(t *testing.T) {
	ledger := newLedger()
	ch := &fakeChannel{}
	svc := newService(ledger, ch)
	subs := []models.Subscriber{{ID: "u1", ChannelRecipientID: "100", ReminderEnabled: true, ReminderRules: oneDayRule()}}
	events := []models.Event{{ID: 42, StartTime: now.Add(24 * time.Hour)}}

	first := svc.Dispatch(context.Background(), now, subs, events)
	second := svc.Dispatch(context.Background(), now.Add(20*time.Minute), subs, events)

	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, models.RunSummary{Skipped: 1}, second)
	assert.Equal(t, 1, ch.count())
}

func TestDispatchRetriesAfterFailedOrPending(t *testing.T) {
	for _, status := range []models.NotificationStatus{models.StatusFailed, models.StatusPending} {
		t.Run(string(status), func(t *testing.T) {
			ledger := newLedger()
			ctx := context.Background()
			rec, err := ledger.Store.CreateNotification(ctx, "u1", 42, "1day")
			require.NoError(t, err)
			if status == models.StatusFailed {
				require.NoError(t, ledger.Store.UpdateNotificationStatus(ctx, rec.ID, models.StatusFailed, "timeout"))
			}

			ch := &fakeChannel{}
			svc := newService(ledger, ch)
			subs := []models.Subscriber{{ID: "u1", ChannelRecipientID: "100", ReminderEnabled: true, ReminderRules: oneDayRule()}}
			events := []models.Event{{ID: 42, StartTime: now.Add(24 * time.Hour)}}

			summary := svc.Dispatch(ctx, now, subs, events)

			assert.Equal(t, models.RunSummary{Attempted: 1, Sent: 1}, summary)
			assert.Equal(t, 1, ch.count())
			require.Len(t, ledger.createdRecs, 1)
			assert.NotEqual(t, rec.ID, ledger.createdRecs[0].ID)

			stats, err := ledger.NotificationStats(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 2, stats.Total)
			assert.Equal(t, 1, stats.Sent)
		})
	}
}

func TestDispatchRecordsDeliveryFailure(t *testing.T) {
	ledger := newLedger()
	ch := &fakeChannel{fail: map[string]error{"100": errors.New("bot was blocked by the user")}}
	svc := newService(ledger, ch)
	subs := []models.Subscriber{{ID: "u1", ChannelRecipientID: "100", ReminderEnabled: true, ReminderRules: oneDayRule()}}
	events := []models.Event{{ID: 42, StartTime: now.Add(24 * time.Hour)}}

	summary := svc.Dispatch(context.Background(), now, subs, events)

	assert.Equal(t, models.RunSummary{Attempted: 1, Failed: 1}, summary)
	rec, err := ledger.Store.FindMostRecentNotification(context.Background(), "u1", 42, "1day")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, "bot was blocked by the user", rec.ErrorMessage)
}

func TestDispatchTimeoutIsFailure(t *testing.T) {
	ledger := newLedger()
	ch := &fakeChannel{delay: time.Second}
	svc := New(ledger, ch, fakeRenderer{}, logging.NewNop(), Config{
		MaxWorkers:  1,
		SendTimeout: 20 * time.Millisecond,
	})
	subs := []models.Subscriber{{ID: "u1", ChannelRecipientID: "100", ReminderEnabled: true, ReminderRules: oneDayRule()}}
	events := []models.Event{{ID: 42, StartTime: now.Add(24 * time.Hour)}}

	summary := svc.Dispatch(context.Background(), now, subs, events)

	assert.Equal(t, models.RunSummary{Attempted: 1, Failed: 1}, summary)
	rec, err := ledger.Store.FindMostRecentNotification(context.Background(), "u1", 42, "1day")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
}

func TestDispatchIsolatesSubscriberFailures(t *testing.T) {
	ledger := newLedger()
	ch := &fakeChannel{panicOn: map[string]bool{"100": true}}
	svc := newService(ledger, ch)
	subs := []models.Subscriber{
		{ID: "a", ChannelRecipientID: "100", ReminderEnabled: true, ReminderRules: oneDayRule()},
		{ID: "b", ChannelRecipientID: "200", ReminderEnabled: true, ReminderRules: oneDayRule()},
		{ID: "c", ChannelRecipientID: "", ReminderEnabled: true, ReminderRules: oneDayRule()},
	}
	events := []models.Event{{ID: 42, StartTime: now.Add(24 * time.Hour)}}

	summary := svc.Dispatch(context.Background(), now, subs, events)

	assert.Equal(t, models.RunSummary{Attempted: 2, Sent: 1, Failed: 1, SubscriberFailures: 2}, summary)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "200", ch.sent[0].recipient)

	rec, err := ledger.Store.FindMostRecentNotification(context.Background(), "b", 42, "1day")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, rec.Status)

	// a crashed between create and update: its record stays pending
	recA, err := ledger.Store.FindMostRecentNotification(context.Background(), "a", 42, "1day")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, recA.Status)
}

func TestDispatchEmptyInputsTouchNothing(t *testing.T) {
	ledger := newLedger()
	ch := &fakeChannel{}
	svc := newService(ledger, ch)
	subs := []models.Subscriber{{ID: "u1", ChannelRecipientID: "100", ReminderEnabled: true, ReminderRules: oneDayRule()}}
	events := []models.Event{{ID: 42, StartTime: now.Add(24 * time.Hour)}}

	assert.Equal(t, models.RunSummary{}, svc.Dispatch(context.Background(), now, nil, events))
	assert.Equal(t, models.RunSummary{}, svc.Dispatch(context.Background(), now, subs, nil))
	assert.Zero(t, ledger.calls)
	assert.Zero(t, ch.count())
}

func TestDispatchSkipsDisabledAndNotDue(t *testing.T) {
	ledger := newLedger()
	ch := &fakeChannel{}
	svc := newService(ledger, ch)
	subs := []models.Subscriber{
		{ID: "off", ChannelRecipientID: "100", ReminderEnabled: false, ReminderRules: oneDayRule()},
		{ID: "on", ChannelRecipientID: "200", ReminderEnabled: true, ReminderRules: []models.ReminderRule{
			{Value: 3, Unit: models.UnitHours},
			{Value: 0, Unit: models.UnitHours},
		}},
	}
	events := []models.Event{{ID: 42, StartTime: now.Add(24 * time.Hour)}}

	summary := svc.Dispatch(context.Background(), now, subs, events)

	assert.Equal(t, models.RunSummary{}, summary)
	assert.Zero(t, ledger.calls)
}

func TestDispatchLedgerErrors(t *testing.T) {
	subs := []models.Subscriber{{ID: "u1", ChannelRecipientID: "100", ReminderEnabled: true, ReminderRules: oneDayRule()}}
	events := []models.Event{{ID: 42, StartTime: now.Add(24 * time.Hour)}}

	t.Run("lookup fails", func(t *testing.T) {
		ledger := newLedger()
		ledger.findErr = errors.New("connection reset")
		ch := &fakeChannel{}
		summary := newService(ledger, ch).Dispatch(context.Background(), now, subs, events)
		assert.Equal(t, models.RunSummary{Attempted: 1, Failed: 1}, summary)
		assert.Zero(t, ch.count())
	})

	t.Run("create fails", func(t *testing.T) {
		ledger := newLedger()
		ledger.createErr = errors.New("disk full")
		ch := &fakeChannel{}
		summary := newService(ledger, ch).Dispatch(context.Background(), now, subs, events)
		assert.Equal(t, models.RunSummary{Attempted: 1, Failed: 1}, summary)
		assert.Zero(t, ch.count())
	})

	t.Run("update after delivery fails", func(t *testing.T) {
		ledger := newLedger()
		ledger.updateErr = errors.New("deadlock detected")
		ch := &fakeChannel{}
		summary := newService(ledger, ch).Dispatch(context.Background(), now, subs, events)
		assert.Equal(t, models.RunSummary{Attempted: 1, Sent: 1, Unrecorded: 1}, summary)
		assert.Equal(t, 1, ch.count())
	})
}

func TestDispatchDuplicateKindsWithinSubscriber(t *testing.T) {
	ledger := newLedger()
	ch := &fakeChannel{}
	svc := newService(ledger, ch)
	subs := []models.Subscriber{{ID: "u1", ChannelRecipientID: "100", ReminderEnabled: true, ReminderRules: []models.ReminderRule{
		{Value: 1, Unit: models.UnitDays},
		{Value: 1, Unit: models.UnitDays},
	}}}
	events := []models.Event{{ID: 42, StartTime: now.Add(24 * time.Hour)}}

	summary := svc.Dispatch(context.Background(), now, subs, events)

	assert.Equal(t, models.RunSummary{Attempted: 1, Sent: 1, Skipped: 1}, summary)
	assert.Equal(t, 1, ch.count())
}

func TestDispatchManySubscribersConcurrently(t *testing.T) {
	ledger := newLedger()
	ch := &fakeChannel{}
	svc := newService(ledger, ch)

	var subs []models.Subscriber
	for i := 0; i < 25; i++ {
		subs = append(subs, models.Subscriber{
			ID:                 fmt.Sprintf("u%d", i),
			ChannelRecipientID: fmt.Sprintf("%d", 1000+i),
			ReminderEnabled:    true,
			ReminderRules:      []models.ReminderRule{{Value: 1, Unit: models.UnitDays}, {Value: 3, Unit: models.UnitHours}},
		})
	}
	events := []models.Event{
		{ID: 1, StartTime: now.Add(24 * time.Hour)},
		{ID: 2, StartTime: now.Add(3 * time.Hour)},
		{ID: 3, StartTime: now.Add(72 * time.Hour)},
	}

	summary := svc.Dispatch(context.Background(), now, subs, events)

	assert.Equal(t, models.RunSummary{Attempted: 50, Sent: 50}, summary)
	assert.Equal(t, 50, ch.count())
}
