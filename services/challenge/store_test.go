package challenge

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/omnichat-gateway/internal/clock"
	"github.com/upb/omnichat-gateway/repositories/memory"
	"github.com/upb/omnichat-gateway/services"
	"go.uber.org/zap"
)

var (
	testSecret = []byte("aUfueJNRAGEzKPUKIZidpGvO1KrPvZuc")
	testStart  = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	store *Store
	clock *clock.Fake
	kv    *memory.Store
}

func newFixture() *fixture {
	clk := clock.NewFake(testStart)
	kv := memory.NewStore(clk)
	s := NewStore(kv, clk, &clock.SequenceTokens{}, Config{
		Secret:      testSecret,
		TTL:         60 * time.Second,
		DriftWindow: 30 * time.Second,
	}, zap.NewNop())
	return &fixture{store: s, clock: clk, kv: kv}
}

func (f *fixture) signedRequest(t *testing.T, token string, ts int64, body string) VerifyRequest {
	t.Helper()
	payload := CanonicalPayload(token, ts, "web", "test-agent/1.0", []byte(body))
	sig, err := Sign(testSecret, payload)
	require.NoError(t, err)
	return VerifyRequest{Token: token, Timestamp: ts, Signature: sig, Payload: payload}
}

func TestIssueChallenge(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ch, err := f.store.IssueChallenge(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", ch.Token)
	assert.Equal(t, testStart, ch.IssuedAt)
	assert.Equal(t, 60, ch.TTLSeconds())

	_, ok, err := f.kv.Get(ctx, "challenge:tok-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyAndConsume_Success(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ch, err := f.store.IssueChallenge(ctx)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	req := f.signedRequest(t, ch.Token, f.clock.Now().UnixMilli(), `{"message":"hi"}`)

	res, err := f.store.VerifyAndConsume(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ch.Token, res.Token)
	assert.Equal(t, testStart, res.IssuedAt)
}

func TestVerifyAndConsume_SingleUse(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ch, _ := f.store.IssueChallenge(ctx)
	req := f.signedRequest(t, ch.Token, f.clock.Now().UnixMilli(), `{}`)

	_, err := f.store.VerifyAndConsume(ctx, req)
	require.NoError(t, err)

	// identical replay with a recomputed signature
	req = f.signedRequest(t, ch.Token, f.clock.Now().UnixMilli(), `{}`)
	_, err = f.store.VerifyAndConsume(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrExpiredChallenge)
	assert.Contains(t, err.Error(), "already used")
}

func TestVerifyAndConsume_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ch, _ := f.store.IssueChallenge(ctx)
	req := f.signedRequest(t, ch.Token, f.clock.Now().UnixMilli(), `{}`)

	var wins, expired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.store.VerifyAndConsume(ctx, req)
			if err == nil {
				wins.Add(1)
			} else if errors.Is(err, services.ErrExpiredChallenge) {
				expired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(19), expired.Load())
}

func TestVerifyAndConsume_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing challenge", func(t *testing.T) {
		f := newFixture()
		req := f.signedRequest(t, "never-issued", f.clock.Now().UnixMilli(), `{}`)
		_, err := f.store.VerifyAndConsume(ctx, req)
		assert.ErrorIs(t, err, services.ErrMissingChallenge)
	})

	t.Run("empty token", func(t *testing.T) {
		f := newFixture()
		_, err := f.store.VerifyAndConsume(ctx, VerifyRequest{})
		assert.ErrorIs(t, err, services.ErrMissingChallenge)
	})

	t.Run("expired at T+65s with a correct signature", func(t *testing.T) {
		f := newFixture()
		ch, _ := f.store.IssueChallenge(ctx)

		f.clock.Advance(65 * time.Second)
		req := f.signedRequest(t, ch.Token, f.clock.Now().UnixMilli(), `{}`)

		_, err := f.store.VerifyAndConsume(ctx, req)
		assert.ErrorIs(t, err, services.ErrExpiredChallenge)
	})

	t.Run("unknown once retention has passed", func(t *testing.T) {
		f := newFixture()
		ch, _ := f.store.IssueChallenge(ctx)

		f.clock.Advance(121 * time.Second)
		req := f.signedRequest(t, ch.Token, f.clock.Now().UnixMilli(), `{}`)

		_, err := f.store.VerifyAndConsume(ctx, req)
		assert.ErrorIs(t, err, services.ErrMissingChallenge)
	})

	t.Run("expired while the store still holds the record", func(t *testing.T) {
		f := newFixture()
		ch, _ := f.store.IssueChallenge(ctx)
		// simulate a backend that keeps entries past their TTL
		require.NoError(t, f.kv.Put(ctx, "challenge:"+ch.Token,
			`{"issued_at":`+itoa(testStart.UnixMilli())+`}`, 0))

		f.clock.Advance(65 * time.Second)
		req := f.signedRequest(t, ch.Token, f.clock.Now().UnixMilli(), `{}`)

		_, err := f.store.VerifyAndConsume(ctx, req)
		assert.ErrorIs(t, err, services.ErrExpiredChallenge)
	})

	t.Run("timestamp out of range despite valid signature", func(t *testing.T) {
		f := newFixture()
		ch, _ := f.store.IssueChallenge(ctx)

		stale := f.clock.Now().Add(-31 * time.Second).UnixMilli()
		req := f.signedRequest(t, ch.Token, stale, `{}`)

		_, err := f.store.VerifyAndConsume(ctx, req)
		assert.ErrorIs(t, err, services.ErrTimestampOutOfRange)

		future := f.clock.Now().Add(31 * time.Second).UnixMilli()
		req = f.signedRequest(t, ch.Token, future, `{}`)
		_, err = f.store.VerifyAndConsume(ctx, req)
		assert.ErrorIs(t, err, services.ErrTimestampOutOfRange)
	})

	t.Run("timestamp at the drift boundary is accepted", func(t *testing.T) {
		f := newFixture()
		ch, _ := f.store.IssueChallenge(ctx)

		edge := f.clock.Now().Add(-30 * time.Second).UnixMilli()
		req := f.signedRequest(t, ch.Token, edge, `{}`)

		_, err := f.store.VerifyAndConsume(ctx, req)
		assert.NoError(t, err)
	})

	t.Run("invalid signature", func(t *testing.T) {
		f := newFixture()
		ch, _ := f.store.IssueChallenge(ctx)
		req := f.signedRequest(t, ch.Token, f.clock.Now().UnixMilli(), `{}`)
		req.Payload = CanonicalPayload(ch.Token, req.Timestamp, "web", "test-agent/1.0", []byte(`{"tampered":true}`))

		_, err := f.store.VerifyAndConsume(ctx, req)
		assert.ErrorIs(t, err, services.ErrInvalidSignature)

		// a failed signature does not burn the challenge
		good := f.signedRequest(t, ch.Token, f.clock.Now().UnixMilli(), `{}`)
		_, err = f.store.VerifyAndConsume(ctx, good)
		assert.NoError(t, err)
	})

	t.Run("non-hex signature", func(t *testing.T) {
		f := newFixture()
		ch, _ := f.store.IssueChallenge(ctx)
		req := f.signedRequest(t, ch.Token, f.clock.Now().UnixMilli(), `{}`)
		req.Signature = "not-hex!"

		_, err := f.store.VerifyAndConsume(ctx, req)
		assert.ErrorIs(t, err, services.ErrInvalidSignature)
	})
}

// MockKV is a mock implementation of repositories.KVStore
type MockKV struct {
	mock.Mock
}

func (m *MockKV) Get(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockKV) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *MockKV) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockKV) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockKV) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	args := m.Called(ctx, key, ttl)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockKV) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockKV) Close() error { return nil }

func TestStore_FailsClosedOnStoreErrors(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testStart)

	t.Run("issue", func(t *testing.T) {
		kv := new(MockKV)
		kv.On("Put", mock.Anything, "challenge:tok-1", mock.Anything, 120*time.Second).Return(errors.New("down"))
		s := NewStore(kv, clk, &clock.SequenceTokens{}, Config{Secret: testSecret}, zap.NewNop())

		_, err := s.IssueChallenge(ctx)
		assert.ErrorIs(t, err, services.ErrStoreUnavailable)
	})

	t.Run("verify", func(t *testing.T) {
		kv := new(MockKV)
		kv.On("Get", mock.Anything, "challenge:abc").Return("", false, errors.New("down"))
		s := NewStore(kv, clk, &clock.SequenceTokens{}, Config{Secret: testSecret}, zap.NewNop())

		_, err := s.VerifyAndConsume(ctx, VerifyRequest{Token: "abc", Timestamp: testStart.UnixMilli()})
		assert.ErrorIs(t, err, services.ErrStoreUnavailable)
		kv.AssertExpectations(t)
	})

	t.Run("consume", func(t *testing.T) {
		kv := new(MockKV)
		rec := `{"issued_at":` + itoa(testStart.UnixMilli()) + `}`
		kv.On("Get", mock.Anything, "challenge:abc").Return(rec, true, nil)
		kv.On("Get", mock.Anything, "challenge:abc:used").Return("", false, nil)
		kv.On("PutIfAbsent", mock.Anything, "challenge:abc:used", "1", 120*time.Second).Return(false, errors.New("down"))
		s := NewStore(kv, clk, &clock.SequenceTokens{}, Config{Secret: testSecret}, zap.NewNop())

		payload := CanonicalPayload("abc", testStart.UnixMilli(), "", "", nil)
		sig, _ := Sign(testSecret, payload)
		_, err := s.VerifyAndConsume(ctx, VerifyRequest{Token: "abc", Timestamp: testStart.UnixMilli(), Signature: sig, Payload: payload})
		assert.ErrorIs(t, err, services.ErrStoreUnavailable)
		kv.AssertExpectations(t)
	})
}

func TestCanonicalPayload(t *testing.T) {
	got := CanonicalPayload("abc", 1705320000000, "cli", "curl/8.0", []byte(`{"message":"hi"}`))
	assert.Equal(t, `abc|1705320000000|cli|curl/8.0|{"message":"hi"}`, got)

	assert.Equal(t, "abc|1|||", CanonicalPayload("abc", 1, "", "", nil))
}

func TestSignVerify(t *testing.T) {
	sig, err := Sign([]byte("key"), "The quick brown fox jumps over the lazy dog")
	require.NoError(t, err)
	// RFC-known HMAC-SHA256 vector
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", sig)

	assert.NoError(t, Verify([]byte("key"), "The quick brown fox jumps over the lazy dog", sig))
	assert.Error(t, Verify([]byte("other"), "The quick brown fox jumps over the lazy dog", sig))
	assert.Error(t, Verify([]byte("key"), "payload", "zz"))
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
