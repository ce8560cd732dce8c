package referral

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"referral_service/internal/config"
	"referral_service/internal/lib/random"
	"referral_service/internal/models"
	"referral_service/internal/storage"
	"referral_service/internal/storage/memory"
	rediscache "referral_service/internal/storage/redis"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

var testCfg = config.Referral{
	CodeLength:          20,
	MinTTLDays:          1,
	MaxTTLDays:          30,
	CacheTTL:            5 * time.Minute,
	MaxGenerateAttempts: 3,
}

type fixture struct {
	svc   *Referral
	store *memory.Storage
	mr    *miniredis.Miniredis
	clock *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memory.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	clock := start
	svc := New(log, testCfg, store, store, store, rediscache.NewWithClient(client, testCfg.CacheTTL))
	svc.now = func() time.Time { return clock }

	return &fixture{svc: svc, store: store, mr: mr, clock: &clock}
}

func (f *fixture) user(t *testing.T, email string, codeID *int64) models.User {
	t.Helper()

	id, err := f.store.SaveUser(context.Background(), email, []byte("hash"), codeID)
	require.NoError(t, err)

	u, err := f.store.UserByID(context.Background(), id)
	require.NoError(t, err)

	return u
}

func TestCreateCode_Duration(t *testing.T) {
	tests := []struct {
		days    int
		wantErr error
	}{
		{days: 0, wantErr: ErrInvalidDuration},
		{days: 31, wantErr: ErrInvalidDuration},
		{days: -1, wantErr: ErrInvalidDuration},
		{days: 1},
		{days: 30},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d days", tt.days), func(t *testing.T) {
			f := newFixture(t)
			owner := f.user(t, "owner@x.com", nil)

			rc, err := f.svc.CreateCode(context.Background(), owner, tt.days)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, start.Add(time.Duration(tt.days)*24*time.Hour), rc.ExpiresAt)
			assert.Equal(t, owner.ID, rc.OwnerID)
		})
	}
}

func TestCreateCode_Format(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner@x.com", nil)

	rc, err := f.svc.CreateCode(context.Background(), owner, 7)
	require.NoError(t, err)

	assert.Len(t, rc.Code, 20)
	for _, ch := range rc.Code {
		assert.True(t, strings.ContainsRune(random.CodeAlphabet, ch), "unexpected rune %q", ch)
	}
}

func TestCreateCode_AlreadyActiveUntilDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "owner@x.com", nil)

	_, err := f.svc.CreateCode(ctx, owner, 7)
	require.NoError(t, err)

	_, err = f.svc.CreateCode(ctx, owner, 7)
	require.ErrorIs(t, err, ErrAlreadyActive)

	// the active check comes before the duration check
	_, err = f.svc.CreateCode(ctx, owner, 0)
	require.ErrorIs(t, err, ErrAlreadyActive)

	require.NoError(t, f.svc.DeleteMyCode(ctx, owner))

	_, err = f.svc.CreateCode(ctx, owner, 7)
	require.NoError(t, err)
}

func TestCreateCode_AlreadyActiveUntilExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "owner@x.com", nil)

	first, err := f.svc.CreateCode(ctx, owner, 1)
	require.NoError(t, err)

	*f.clock = start.Add(24*time.Hour - time.Second)
	_, err = f.svc.CreateCode(ctx, owner, 1)
	require.ErrorIs(t, err, ErrAlreadyActive)

	*f.clock = first.ExpiresAt
	second, err := f.svc.CreateCode(ctx, owner, 1)
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, second.Code)
}

func TestCreateCode_RetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	other := f.user(t, "other@x.com", nil)
	_, err := f.store.SaveCode(ctx, other.ID, "TAKEN", start.Add(time.Hour), start)
	require.NoError(t, err)

	owner := f.user(t, "owner@x.com", nil)

	codes := []string{"TAKEN", "TAKEN", "FRESH"}
	calls := 0
	f.svc.generate = func(int) (string, error) {
		c := codes[calls]
		calls++
		return c, nil
	}

	rc, err := f.svc.CreateCode(ctx, owner, 1)
	require.NoError(t, err)
	assert.Equal(t, "FRESH", rc.Code)
	assert.Equal(t, 3, calls)
}

func TestCreateCode_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	other := f.user(t, "other@x.com", nil)
	_, err := f.store.SaveCode(ctx, other.ID, "TAKEN", start.Add(time.Hour), start)
	require.NoError(t, err)

	owner := f.user(t, "owner@x.com", nil)
	f.svc.generate = func(int) (string, error) { return "TAKEN", nil }

	_, err = f.svc.CreateCode(ctx, owner, 1)
	require.ErrorIs(t, err, ErrCodeGeneration)
}

func TestCreateCode_StorageOutage(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner@x.com", nil)

	f.store.Fail(errors.New("connection refused"))

	_, err := f.svc.CreateCode(context.Background(), owner, 1)
	require.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestMyCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "owner@x.com", nil)

	_, err := f.svc.MyCode(ctx, owner)
	require.ErrorIs(t, err, ErrCodeNotFound)

	created, err := f.svc.CreateCode(ctx, owner, 3)
	require.NoError(t, err)

	got, err := f.svc.MyCode(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	*f.clock = created.ExpiresAt
	_, err = f.svc.MyCode(ctx, owner)
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestDeleteMyCode_NullsRedeemers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "owner@x.com", nil)

	rc, err := f.svc.CreateCode(ctx, owner, 3)
	require.NoError(t, err)

	friend := f.user(t, "friend@x.com", &rc.ID)
	require.NotNil(t, friend.CodeID)

	require.NoError(t, f.svc.DeleteMyCode(ctx, owner))

	friend, err = f.store.UserByID(ctx, friend.ID)
	require.NoError(t, err)
	assert.Nil(t, friend.CodeID)

	_, err = f.svc.Referrals(ctx, rc.ID)
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestDeleteMyCode_NoActiveCode(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner@x.com", nil)

	err := f.svc.DeleteMyCode(context.Background(), owner)
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestCodeByOwnerEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "owner@x.com", nil)

	_, err := f.svc.CodeByOwnerEmail(ctx, "ghost@x.com")
	require.ErrorIs(t, err, ErrCodeNotFound)

	_, err = f.svc.CodeByOwnerEmail(ctx, "owner@x.com")
	require.ErrorIs(t, err, ErrCodeNotFound)

	rc, err := f.svc.CreateCode(ctx, owner, 3)
	require.NoError(t, err)

	got, err := f.svc.CodeByOwnerEmail(ctx, "owner@x.com")
	require.NoError(t, err)
	assert.Equal(t, rc.Code, got.Code)
	assert.True(t, f.mr.Exists("referral:email:owner@x.com"))

	// served from cache while the store is down
	f.store.Fail(errors.New("connection refused"))
	got, err = f.svc.CodeByOwnerEmail(ctx, "owner@x.com")
	require.NoError(t, err)
	assert.Equal(t, rc.Code, got.Code)
	f.store.Fail(nil)

	require.NoError(t, f.svc.DeleteMyCode(ctx, owner))
	assert.False(t, f.mr.Exists("referral:email:owner@x.com"))

	_, err = f.svc.CodeByOwnerEmail(ctx, "owner@x.com")
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestCodeByOwnerEmail_IgnoresExpiredCacheEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "owner@x.com", nil)

	rc, err := f.svc.CreateCode(ctx, owner, 1)
	require.NoError(t, err)

	_, err = f.svc.CodeByOwnerEmail(ctx, "owner@x.com")
	require.NoError(t, err)

	*f.clock = rc.ExpiresAt

	_, err = f.svc.CodeByOwnerEmail(ctx, "owner@x.com")
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestCodeByOwnerEmail_WithoutCache(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(slog.New(slog.NewTextHandler(io.Discard, nil)), testCfg, store, store, store, nil)

	id, err := store.SaveUser(ctx, "owner@x.com", []byte("hash"), nil)
	require.NoError(t, err)
	_, err = store.SaveCode(ctx, id, "ABC", time.Now().Add(time.Hour), time.Now())
	require.NoError(t, err)

	rc, err := svc.CodeByOwnerEmail(ctx, "owner@x.com")
	require.NoError(t, err)
	assert.Equal(t, "ABC", rc.Code)
}

func TestReferrals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "owner@x.com", nil)

	rc, err := f.svc.CreateCode(ctx, owner, 1)
	require.NoError(t, err)

	got, err := f.svc.Referrals(ctx, rc.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	b := f.user(t, "b@x.com", &rc.ID)
	c := f.user(t, "c@x.com", &rc.ID)
	f.user(t, "unrelated@x.com", nil)

	// expiry does not unlink redeemers
	*f.clock = rc.ExpiresAt.Add(time.Hour)

	got, err = f.svc.Referrals(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.Referral{
		{ID: b.ID, Email: "b@x.com"},
		{ID: c.ID, Email: "c@x.com"},
	}, got)

	_, err = f.svc.Referrals(ctx, rc.ID+100)
	require.ErrorIs(t, err, ErrCodeNotFound)
}

// interleaved runs hook once, right after the wrapped provider answers an active-code read.
type interleaved struct {
	CodeProvider
	hook func()
}

func (p *interleaved) ActiveCodeByOwner(ctx context.Context, ownerID int64, now time.Time) (models.ReferralCode, error) {
	rc, err := p.CodeProvider.ActiveCodeByOwner(ctx, ownerID, now)

	if hook := p.hook; hook != nil {
		p.hook = nil
		hook()
	}

	return rc, err
}

func TestCreateCode_WritesThroughCache(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner@x.com", nil)

	rc, err := f.svc.CreateCode(context.Background(), owner, 3)
	require.NoError(t, err)
	require.True(t, f.mr.Exists("referral:email:owner@x.com"))

	f.store.Fail(errors.New("connection refused"))
	got, err := f.svc.CodeByOwnerEmail(context.Background(), "owner@x.com")
	require.NoError(t, err)
	assert.Equal(t, rc.Code, got.Code)
}

func TestCodeByOwnerEmail_DeleteBetweenReadAndCacheWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "owner@x.com", nil)

	_, err := f.svc.CreateCode(ctx, owner, 3)
	require.NoError(t, err)
	f.mr.FlushAll()

	f.svc.codeProvider = &interleaved{
		CodeProvider: f.store,
		hook: func() {
			require.NoError(t, f.svc.DeleteMyCode(ctx, owner))
		},
	}

	_, err = f.svc.CodeByOwnerEmail(ctx, "owner@x.com")
	require.ErrorIs(t, err, ErrCodeNotFound)
	assert.False(t, f.mr.Exists("referral:email:owner@x.com"))

	_, err = f.svc.CodeByOwnerEmail(ctx, "owner@x.com")
	require.ErrorIs(t, err, ErrCodeNotFound)
}
