package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrEmptyListing = errors.New("listing feed returned no symbols")

type SyncStatus string

const (
	Skipped SyncStatus = "skipped"
	Synced  SyncStatus = "synced"
)

type SyncResult struct {
	Status SyncStatus `json:"status"`
	Count  int        `json:"count"`
	At     time.Time  `json:"at"`
}

// SyncStore is the persistence the syncer writes to.
type SyncStore interface {
	LastSync(ctx context.Context) (time.Time, bool, error)
	SetLastSync(ctx context.Context, t time.Time) error
	Upsert(ctx context.Context, entries []Entry) (int, error)
	RebuildSearchIndex(ctx context.Context) error
}

// Syncer refreshes the directory from the exchange feed at most once per calendar day.
type Syncer struct {
	store    SyncStore
	feed     Feed
	listings []Listing
	now      func() time.Time
	log      *logrus.Logger
}

func NewSyncer(store SyncStore, feed Feed, log *logrus.Logger) *Syncer {
	return &Syncer{
		store:    store,
		feed:     feed,
		listings: []Listing{NasdaqListed, OtherListed},
		now:      time.Now,
		log:      log,
	}
}

// SyncIfNeeded downloads the listings unless a sync already succeeded today.
func (s *Syncer) SyncIfNeeded(ctx context.Context) (SyncResult, error) {
	now := s.now()
	last, ok, err := s.store.LastSync(ctx)
	if err != nil {
		s.log.Warnf("read sync watermark: %v", err)
	}
	if ok && sameDay(last, now) {
		s.log.Debugf("directory already synced at %s", last.Format(time.RFC3339))
		return SyncResult{Status: Skipped, At: last}, nil
	}
	return s.sync(ctx, now)
}

// Force syncs regardless of the watermark.
func (s *Syncer) Force(ctx context.Context) (SyncResult, error) {
	return s.sync(ctx, s.now())
}

func (s *Syncer) sync(ctx context.Context, now time.Time) (SyncResult, error) {
	parsed := make([][]Entry, 0, len(s.listings))
	for _, l := range s.listings {
		data, err := s.feed.Fetch(ctx, l.File)
		if err != nil {
			return SyncResult{}, fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, l.File, err)
		}
		entries := ParseListing(string(data), l)
		s.log.Infof("parsed %d symbols from %s", len(entries), l.File)
		parsed = append(parsed, entries)
	}

	entries := merge(parsed...)
	if len(entries) == 0 {
		return SyncResult{}, ErrEmptyListing
	}
	n, err := s.store.Upsert(ctx, entries)
	if err != nil {
		return SyncResult{}, fmt.Errorf("store tickers: %w", err)
	}
	if err := s.store.RebuildSearchIndex(ctx); err != nil {
		return SyncResult{}, fmt.Errorf("rebuild search index: %w", err)
	}
	if err := s.store.SetLastSync(ctx, now); err != nil {
		return SyncResult{}, fmt.Errorf("write sync watermark: %w", err)
	}
	s.log.Infof("directory synced: %d tickers", n)
	return SyncResult{Status: Synced, Count: n, At: now}, nil
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
