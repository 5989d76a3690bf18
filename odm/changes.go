package odm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mbroadst/thinkagain/engine"
)

// FeedState is the change-feed binding state of a document.
type FeedState int

const (
	FeedInactive FeedState = iota
	FeedActive
	FeedClosed
)

func (s FeedState) String() string {
	switch s {
	case FeedInactive:
		return "inactive"
	case FeedActive:
		return "active"
	case FeedClosed:
		return "closed"
	}
	return fmt.Sprintf("FeedState(%d)", int(s))
}

// ChangesOptions configures Watch and Changes.
type ChangesOptions struct {
	// IncludeInitial delivers the current state before live changes.
	IncludeInitial bool
}

// Watch returns a document bound to the change feed of the row with primary
// key key. With IncludeInitial the document is populated from the current row
// before Watch returns; no change event is emitted for it.
func (m *Model) Watch(ctx context.Context, key any, opts ChangesOptions) (*Document, error) {
	if err := m.Ready(ctx); err != nil {
		return nil, err
	}
	feed, err := m.db.engine.Changes(ctx, m.name, engine.ChangesOptions{Key: key, IncludeInitial: opts.IncludeInitial})
	if err != nil {
		return nil, fmt.Errorf("watch %s %v: %w", m.name, key, err)
	}

	d := m.newDocument()
	if opts.IncludeInitial {
		ch, err := feed.Next(ctx)
		if err != nil {
			feed.Close()
			return nil, fmt.Errorf("watch %s %v: %w", m.name, key, err)
		}
		if ch.New != nil {
			d.apply(ch.New)
			d.setSaved(true)
		}
	}
	if err := d.bind(ctx, feed); err != nil {
		return nil, err
	}
	return d, nil
}

// Watch binds the saved document to the change feed of its row.
func (d *Document) Watch(ctx context.Context) error {
	m := d.model
	if err := m.Ready(ctx); err != nil {
		return err
	}
	key, ok := d.PrimaryKey()
	if !ok {
		return invariant("watch %s: primary key %q is not set", m.name, m.pk)
	}
	if d.FeedState() == FeedActive {
		return ErrFeedBound
	}
	feed, err := m.db.engine.Changes(ctx, m.name, engine.ChangesOptions{Key: key})
	if err != nil {
		return fmt.Errorf("watch %s %v: %w", m.name, key, err)
	}
	return d.bind(ctx, feed)
}

// FeedState returns the document's feed binding state.
func (d *Document) FeedState() FeedState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.feedState
}

// CloseFeed closes the document's change feed. It is idempotent; errors the
// feed reports after closing are not emitted.
func (d *Document) CloseFeed() error {
	d.mu.Lock()
	feed := d.feed
	if feed != nil {
		d.feedState = FeedClosed
	}
	d.mu.Unlock()
	if feed == nil {
		return nil
	}
	return feed.Close()
}

func (d *Document) bind(ctx context.Context, feed engine.Feed) error {
	d.mu.Lock()
	if d.feedState == FeedActive {
		d.mu.Unlock()
		feed.Close()
		return ErrFeedBound
	}
	d.feed = feed
	d.feedState = FeedActive
	d.mu.Unlock()

	go d.follow(ctx, feed)
	return nil
}

func (d *Document) follow(ctx context.Context, feed engine.Feed) {
	for {
		ch, err := feed.Next(ctx)
		if err != nil {
			d.feedFailed(feed, err)
			return
		}

		d.mu.RLock()
		current := d.feed == feed && d.feedState == FeedActive
		d.mu.RUnlock()
		if !current {
			return
		}

		if ch.New == nil {
			d.clear()
			d.setSaved(false)
		} else {
			d.apply(ch.New)
			d.setSaved(true)
		}
		d.setOld(ch.Old)
		d.emit(EventChange, d, nil)
	}
}

func (d *Document) feedFailed(feed engine.Feed, err error) {
	d.mu.Lock()
	if d.feed != feed {
		d.mu.Unlock()
		return
	}
	quiet := d.feedState == FeedClosed || isClosed(err)
	if quiet {
		d.feedState = FeedClosed
	} else {
		d.feedState = FeedInactive
		d.feed = nil
	}
	d.mu.Unlock()
	feed.Close()
	if quiet {
		return
	}

	d.model.db.logger.Warn("change feed failed",
		"model", d.model.name,
		"error", err,
	)
	d.emit(EventError, d, err)
}

func isClosed(err error) bool {
	return errors.Is(err, engine.ErrFeedClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

type feedMode int

const (
	modeNone feedMode = iota
	modePull
	modeEach
	modeEmit
)

// Feed is a change feed over a whole table. It is consumed in exactly one
// mode: pulling with Next, iterating with Each, or listening with On.
type Feed struct {
	emitter

	model *Model
	src   engine.Feed
	ctx   context.Context

	mu      sync.Mutex
	mode    feedMode
	started bool
}

// Changes opens a change feed over m's table.
func (m *Model) Changes(ctx context.Context, opts ChangesOptions) (*Feed, error) {
	if err := m.Ready(ctx); err != nil {
		return nil, err
	}
	src, err := m.db.engine.Changes(ctx, m.name, engine.ChangesOptions{IncludeInitial: opts.IncludeInitial})
	if err != nil {
		return nil, fmt.Errorf("changes %s: %w", m.name, err)
	}
	return &Feed{model: m, src: src, ctx: ctx}, nil
}

// Next blocks until the next change and returns it as a document. Deleted
// rows come back unsaved with OldValue set.
func (f *Feed) Next(ctx context.Context) (*Document, error) {
	if err := f.claim(modePull); err != nil {
		return nil, err
	}
	return f.next(ctx)
}

// Each calls fn for every change until the feed closes, ctx is done, or fn
// returns an error. A closed feed ends Each without error.
func (f *Feed) Each(ctx context.Context, fn func(*Document) error) error {
	if err := f.claim(modeEach); err != nil {
		return err
	}
	for {
		d, err := f.next(ctx)
		if errors.Is(err, engine.ErrFeedClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
}

// On registers a listener for EventData or EventError. The first EventData
// listener starts delivery.
func (f *Feed) On(ev Event, fn Listener) error {
	if ev != EventData && ev != EventError {
		return fmt.Errorf("%w: feed event %s", ErrUnknownEvent, ev)
	}
	if err := f.claim(modeEmit); err != nil {
		return err
	}
	f.on(ev, fn)

	f.mu.Lock()
	start := ev == EventData && !f.started
	if start {
		f.started = true
	}
	f.mu.Unlock()
	if start {
		go f.pump()
	}
	return nil
}

// Close stops the feed.
func (f *Feed) Close() error {
	return f.src.Close()
}

func (f *Feed) claim(mode feedMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode == modeNone {
		f.mode = mode
		return nil
	}
	if f.mode != mode {
		return ErrFeedMode
	}
	return nil
}

func (f *Feed) next(ctx context.Context) (*Document, error) {
	ch, err := f.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	d := f.model.newDocument()
	if ch.New != nil {
		d.apply(ch.New)
		d.setSaved(true)
	}
	d.setOld(ch.Old)
	return d, nil
}

func (f *Feed) pump() {
	for {
		d, err := f.next(f.ctx)
		if err != nil {
			if !isClosed(err) {
				f.model.db.logger.Warn("change feed failed", "model", f.model.name, "error", err)
				f.emit(EventError, nil, err)
			}
			return
		}
		f.emit(EventData, d, nil)
	}
}
