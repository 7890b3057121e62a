// Package ledger implements the group savings-streak ledger: groups, their members,
// daily submissions and the member and group streaks derived from them.
package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/tipidbuddy/tipidbuddy-server/internal/identity"
	"github.com/tipidbuddy/tipidbuddy-server/internal/kv"
)

// Ledger coordinates groups, members and streaks over a kv.Store.
// Every mutation of a group runs while holding that group's lock.
type Ledger struct {
	store    kv.Store
	locker   kv.Locker
	profiles *identity.Directory
	now      func() time.Time
	random   io.Reader
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRandom replaces the invite code entropy source.
func WithRandom(r io.Reader) Option {
	return func(l *Ledger) { l.random = r }
}

// New constructs a Ledger.
func New(store kv.Store, locker kv.Locker, profiles *identity.Directory, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		locker:   locker,
		profiles: profiles,
		now:      time.Now,
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// lockGroup acquires the group's lock.
func (l *Ledger) lockGroup(ctx context.Context, groupID string) (func(), error) {
	release, err := l.locker.Lock(ctx, groupLockKey(groupID))
	if err != nil {
		return nil, wrapStore("lock group "+groupID, err)
	}
	return release, nil
}

// today returns the current UTC day.
func (l *Ledger) today() (time.Time, string) {
	now := l.now().UTC()
	return now, now.Format(dayLayout)
}

// loadGroup reads and validates a group.
func (l *Ledger) loadGroup(ctx context.Context, groupID string) (Group, error) {
	raw, err := l.store.Get(ctx, groupKey(groupID))
	if err != nil {
		if isNotFound(err) {
			return Group{}, ErrGroupNotFound
		}
		return Group{}, wrapStore("load group", err)
	}
	g, errDecode := decodeGroup(raw)
	if errDecode != nil {
		return Group{}, fmt.Errorf("ledger: load group %s: %w", groupID, errDecode)
	}
	if g.ID != groupID {
		return Group{}, fmt.Errorf("ledger: load group %s: %w: id mismatch %q", groupID, ErrCorruptRecord, g.ID)
	}
	return g, nil
}

// saveGroup persists a group.
func (l *Ledger) saveGroup(ctx context.Context, g Group) error {
	if err := kv.SetJSON(ctx, l.store, groupKey(g.ID), g); err != nil {
		return wrapStore("save group", err)
	}
	return nil
}

// GetGroup returns a group by id without membership checks.
func (l *Ledger) GetGroup(ctx context.Context, groupID string) (Group, error) {
	return l.loadGroup(ctx, groupID)
}
