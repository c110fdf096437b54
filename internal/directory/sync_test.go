package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	files map[string]string
	err   error
	calls int
}

func (f *fakeFeed) Fetch(_ context.Context, file string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.files[file]), nil
}

type fakeSyncStore struct {
	entries   map[string]Entry
	last      time.Time
	hasLast   bool
	rebuilds  int
	upsertErr error
}

func newFakeSyncStore() *fakeSyncStore { return &fakeSyncStore{entries: map[string]Entry{}} }

func (s *fakeSyncStore) LastSync(context.Context) (time.Time, bool, error) {
	return s.last, s.hasLast, nil
}

func (s *fakeSyncStore) SetLastSync(_ context.Context, t time.Time) error {
	s.last, s.hasLast = t, true
	return nil
}

func (s *fakeSyncStore) Upsert(_ context.Context, entries []Entry) (int, error) {
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	for _, e := range entries {
		s.entries[e.Symbol] = e
	}
	return len(entries), nil
}

func (s *fakeSyncStore) RebuildSearchIndex(context.Context) error {
	s.rebuilds++
	return nil
}

func newTestSyncer(store SyncStore, feed Feed, now time.Time) *Syncer {
	s := NewSyncer(store, feed, logrus.New())
	s.now = func() time.Time { return now }
	return s
}

func testFeed() *fakeFeed {
	return &fakeFeed{files: map[string]string{NasdaqListed.File: nasdaqFile, OtherListed.File: otherFile}}
}

func TestSyncIfNeeded_FirstRun(t *testing.T) {
	store, feed := newFakeSyncStore(), testFeed()
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

	res, err := newTestSyncer(store, feed, now).SyncIfNeeded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Synced, res.Status)
	assert.Equal(t, 4, res.Count)
	assert.Equal(t, 2, feed.calls)
	assert.Equal(t, 1, store.rebuilds)
	assert.Equal(t, now, store.last)
	assert.Contains(t, store.entries, "SPY")
	assert.NotContains(t, store.entries, "ZXYZ")
}

func TestSyncIfNeeded_SkipsSameDay(t *testing.T) {
	store, feed := newFakeSyncStore(), testFeed()
	store.last, store.hasLast = time.Date(2024, 3, 15, 1, 0, 0, 0, time.UTC), true

	res, err := newTestSyncer(store, feed, time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC)).SyncIfNeeded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Skipped, res.Status)
	assert.Equal(t, 0, feed.calls)
}

func TestSyncIfNeeded_NewDay(t *testing.T) {
	store, feed := newFakeSyncStore(), testFeed()
	store.last, store.hasLast = time.Date(2024, 3, 14, 23, 59, 0, 0, time.UTC), true

	res, err := newTestSyncer(store, feed, time.Date(2024, 3, 15, 0, 1, 0, 0, time.UTC)).SyncIfNeeded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Synced, res.Status)
}

func TestForce_IgnoresWatermark(t *testing.T) {
	store, feed := newFakeSyncStore(), testFeed()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	store.last, store.hasLast = now.Add(-time.Hour), true

	res, err := newTestSyncer(store, feed, now).Force(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Synced, res.Status)
	assert.Equal(t, now, store.last)
}

func TestSync_FeedFailureLeavesStoreUntouched(t *testing.T) {
	store := newFakeSyncStore()
	feed := &fakeFeed{err: errors.New("connection refused")}

	_, err := newTestSyncer(store, feed, time.Now()).SyncIfNeeded(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Empty(t, store.entries)
	assert.False(t, store.hasLast)
	assert.Equal(t, 0, store.rebuilds)
}

func TestSync_UpsertFailureKeepsWatermark(t *testing.T) {
	store := newFakeSyncStore()
	store.upsertErr = errors.New("disk full")

	_, err := newTestSyncer(store, testFeed(), time.Now()).Force(context.Background())
	assert.Error(t, err)
	assert.False(t, store.hasLast)
}

func TestSync_EmptyFeed(t *testing.T) {
	store := newFakeSyncStore()
	feed := &fakeFeed{files: map[string]string{}}

	_, err := newTestSyncer(store, feed, time.Now()).Force(context.Background())
	assert.ErrorIs(t, err, ErrEmptyListing)
	assert.False(t, store.hasLast)
}

func TestSameDay(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	a := time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC)
	b := time.Date(2024, 3, 15, 22, 0, 0, 0, loc)
	assert.True(t, sameDay(a, b))
	assert.False(t, sameDay(a, b.Add(24*time.Hour)))
}

func TestStart_SyncsOnTickAndNotifies(t *testing.T) {
	store, feed := newFakeSyncStore(), testFeed()
	s := newTestSyncer(store, feed, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan SyncResult, 1)
	s.Start(ctx, 10*time.Millisecond, func(res SyncResult) {
		select {
		case done <- res:
		default:
		}
	})

	select {
	case res := <-done:
		assert.Equal(t, Synced, res.Status)
		assert.Equal(t, 4, res.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("refresher never synced")
	}
}
