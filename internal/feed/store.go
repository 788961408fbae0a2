package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "schedexport/internal/log"
	"schedexport/internal/model"
	"schedexport/internal/schedule"
)

// StoreOptions configure a Store.
type StoreOptions struct {
	// EventsFile is an optional JSON feed.
	EventsFile string
	// Period overrides the period label of the loaded feed.
	Period   string
	Sources  []Source
	Horizon  time.Duration
	Location *time.Location
	// Fetcher is required when Sources is not empty.
	Fetcher *Fetcher
	// Now defaults to time.Now.
	Now func() time.Time
	// Parser decides which events carry a usable start date.
	Parser schedule.DateParser
}

// Store holds the most recently loaded feed. A failed refresh keeps the
// previous feed.
type Store struct {
	opts StoreOptions

	mu       sync.RWMutex
	feed     model.Feed
	loaded   bool
	loadedAt time.Time
}

// NewStore creates an empty Store.
func NewStore(opts StoreOptions) *Store {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 180 * 24 * time.Hour
	}
	return &Store{opts: opts}
}

// Feed returns the current feed and whether one was ever loaded.
func (s *Store) Feed() (model.Feed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feed, s.loaded
}

// LoadedAt returns when the current feed was loaded.
func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Set replaces the current feed.
func (s *Store) Set(f model.Feed) {
	if s.opts.Period != "" {
		f.Period = s.opts.Period
	}
	s.mu.Lock()
	s.feed = f
	s.loaded = true
	s.loadedAt = s.opts.Now()
	s.mu.Unlock()
}

// Refresh reloads the file and every ICS source. File events keep their
// order and ICS events follow, ordered by start. Failing ICS sources are
// skipped; the refresh fails only when nothing could be loaded.
func (s *Store) Refresh(ctx context.Context) error {
	var (
		next model.Feed
		errs []error
		ok   bool
	)

	if s.opts.EventsFile != "" {
		f, err := LoadFile(s.opts.EventsFile)
		if err != nil {
			return err
		}
		next, ok = f, true
	}

	if len(s.opts.Sources) > 0 {
		if s.opts.Fetcher == nil {
			return errors.New("feed: ICS sources configured without a fetcher")
		}
		window := WindowAround(s.opts.Now(), s.opts.Horizon)
		results, fetchErrs := s.opts.Fetcher.FetchAll(ctx, s.opts.Sources)
		errs = append(errs, fetchErrs...)

		var parsed []vevent
		for _, res := range results {
			evs, err := parseICS(res.Source, res.Body, s.opts.Location)
			if err != nil {
				errs = append(errs, fmt.Errorf("feed: source %s: %w", res.Source.ID, err))
				continue
			}
			parsed = append(parsed, evs...)
			ok = true
		}
		next.Events = append(next.Events, expand(parsed, window, s.opts.Location)...)
	}

	if !ok {
		if len(errs) == 0 {
			return errors.New("feed: no events file or ICS source configured")
		}
		return errors.Join(errs...)
	}
	for _, err := range errs {
		appLog.Warn("feed refresh partial failure", "error", err)
	}

	s.Set(next)
	appLog.Info("feed refreshed", "period", next.Period, "events", len(next.Events))
	if n := s.opts.Parser.GroupByMonth(next.Events).Excluded; n > 0 {
		appLog.Warn("events without a valid date will be left out of every view", "excluded", n)
	}
	return nil
}

// Register adds a cron job refreshing the store on the cron expression expr.
func (s *Store) Register(c *cron.Cron, expr string, timeout time.Duration) (cron.EntryID, error) {
	id, err := c.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Refresh(ctx); err != nil {
			appLog.Error("scheduled feed refresh failed", err)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("feed: bad refresh schedule %q: %w", expr, err)
	}
	return id, nil
}
