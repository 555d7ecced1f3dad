package secrets

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-service/internal/apperrors"
)

type countingSource struct {
	calls int
	value string
	err   error
}

func (s *countingSource) Fetch(context.Context, string) (string, error) {
	s.calls++
	return s.value, s.err
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	src := &countingSource{value: "token-1"}
	c := NewCache(src, 5*time.Minute, func() time.Time { return now })
	ctx := context.Background()

	v, err := c.Get(ctx, "telegram-bot-token")
	require.NoError(t, err)
	assert.Equal(t, "token-1", v)

	now = now.Add(4 * time.Minute)
	_, err = c.Get(ctx, "telegram-bot-token")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	src.value = "token-2"
	now = now.Add(time.Minute)
	v, err = c.Get(ctx, "telegram-bot-token")
	require.NoError(t, err)
	assert.Equal(t, "token-2", v)
	assert.Equal(t, 2, src.calls)
}

func TestCacheInvalidate(t *testing.T) {
	src := &countingSource{value: "v"}
	c := NewCache(src, time.Hour, nil)
	ctx := context.Background()

	_, _ = c.Get(ctx, "a")
	_, _ = c.Get(ctx, "a")
	c.Invalidate("a")
	_, _ = c.Get(ctx, "a")
	assert.Equal(t, 2, src.calls)
}

// blockingSource holds fetches of key "slow" until release is closed.
type blockingSource struct {
	mu      sync.Mutex
	calls   map[string]int
	started chan struct{}
	release chan struct{}
}

func (s *blockingSource) Fetch(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	s.calls[key]++
	s.mu.Unlock()
	if key == "slow" {
		s.started <- struct{}{}
		<-s.release
	}
	return key + "-value", nil
}

func TestCacheFetchDoesNotBlockOtherKeys(t *testing.T) {
	src := &blockingSource{
		calls:   map[string]int{},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := NewCache(src, time.Hour, nil)
	ctx := context.Background()

	v, err := c.Get(ctx, "fast")
	require.NoError(t, err)
	require.Equal(t, "fast-value", v)

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Get(ctx, "slow")
		}(i)
	}
	<-src.started

	// a cached key is served while another key's fetch is in flight
	done := make(chan string)
	go func() {
		v, _ := c.Get(ctx, "fast")
		done <- v
	}()
	select {
	case v := <-done:
		assert.Equal(t, "fast-value", v)
	case <-time.After(time.Second):
		t.Fatal("Get on a cached key blocked behind a fetch")
	}

	close(src.release)
	wg.Wait()
	assert.Equal(t, []string{"slow-value", "slow-value", "slow-value"}, results)
	assert.Equal(t, 1, src.calls["fast"])
	assert.Equal(t, 1, src.calls["slow"], "concurrent misses share one fetch")
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	src := &countingSource{err: errors.New("throttled")}
	c := NewCache(src, time.Hour, nil)

	_, err := c.Get(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUpstream, apperrors.KindOf(err))

	src.err = nil
	src.value = "ok"
	v, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestEnvSource(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	v, err := EnvSource{}.Fetch(context.Background(), "telegram-bot-token")
	require.NoError(t, err)
	assert.Equal(t, "123:abc", v)

	v, err = EnvSource{Overrides: map[string]string{"telegram-bot-token": "override"}}.Fetch(context.Background(), "telegram-bot-token")
	require.NoError(t, err)
	assert.Equal(t, "override", v)

	_, err = EnvSource{}.Fetch(context.Background(), "missing-secret")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

type fakeSecretsManager struct {
	got string
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.got = aws.ToString(in.SecretId)
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("from-aws")}, nil
}

func TestAWSSourcePrefixesKey(t *testing.T) {
	api := &fakeSecretsManager{}
	src := &AWSSource{client: api, prefix: "reminder-service/"}

	v, err := src.Fetch(context.Background(), "telegram-bot-token")
	require.NoError(t, err)
	assert.Equal(t, "from-aws", v)
	assert.Equal(t, "reminder-service/telegram-bot-token", api.got)
}
