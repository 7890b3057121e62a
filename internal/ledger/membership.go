package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tipidbuddy/tipidbuddy-server/internal/kv"
)

const memberLoadConcurrency = 8

// createMember writes a zeroed member record; it fails with ErrAlreadyMember if one exists.
func (l *Ledger) createMember(ctx context.Context, groupID, userID, name, email string) (Member, error) {
	_, errGet := l.store.Get(ctx, memberKey(groupID, userID))
	switch {
	case errGet == nil:
		return Member{}, ErrAlreadyMember
	case !isNotFound(errGet):
		return Member{}, wrapStore("check member", errGet)
	}
	now, _ := l.today()
	m := Member{
		UserID:             userID,
		Name:               name,
		Email:              email,
		JoinedAt:           now,
		TotalContributions: decimal.Zero,
	}
	if err := l.saveMember(ctx, groupID, m); err != nil {
		return Member{}, err
	}
	return m, nil
}

// joinMember creates the member record of userID with its profile name and email.
func (l *Ledger) joinMember(ctx context.Context, groupID, userID string) (Member, error) {
	name, email := l.profileOf(ctx, userID)
	return l.createMember(ctx, groupID, userID, name, email)
}

// getMember loads the member record of userID in groupID.
func (l *Ledger) getMember(ctx context.Context, groupID, userID string) (Member, error) {
	raw, err := l.store.Get(ctx, memberKey(groupID, userID))
	if err != nil {
		if isNotFound(err) {
			return Member{}, err
		}
		return Member{}, wrapStore("load member", err)
	}
	m, errDecode := decodeMember(raw, userID)
	if errDecode != nil {
		return Member{}, fmt.Errorf("ledger: load member %s/%s: %w", groupID, userID, errDecode)
	}
	return m, nil
}

// saveMember persists a member record.
func (l *Ledger) saveMember(ctx context.Context, groupID string, m Member) error {
	if err := kv.SetJSON(ctx, l.store, memberKey(groupID, m.UserID), m); err != nil {
		return wrapStore("save member", err)
	}
	return nil
}

// deleteMember removes a member record.
func (l *Ledger) deleteMember(ctx context.Context, groupID, userID string) error {
	if err := l.store.Delete(ctx, memberKey(groupID, userID)); err != nil {
		return wrapStore("delete member", err)
	}
	return nil
}

// loadMembers loads the records of every listed member concurrently. Entries whose
// record is missing are nil.
func (l *Ledger) loadMembers(ctx context.Context, g Group) ([]*Member, error) {
	out := make([]*Member, len(g.Members))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(memberLoadConcurrency)
	for i, userID := range g.Members {
		eg.Go(func() error {
			m, err := l.getMember(egCtx, g.ID, userID)
			if err != nil {
				if isNotFound(err) {
					return nil
				}
				return err
			}
			out[i] = &m
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// listMembers returns the group's member records in members order, joined with the
// current profile name and email. Listed users without a record are skipped.
func (l *Ledger) listMembers(ctx context.Context, g Group) ([]Member, error) {
	records, err := l.loadMembers(ctx, g)
	if err != nil {
		return nil, err
	}
	views := make([]Member, 0, len(records))
	for i, m := range records {
		if m == nil {
			log.WithFields(log.Fields{"group_id": g.ID, "user_id": g.Members[i]}).Warn("ledger: listed member has no record")
			continue
		}
		view := *m
		if name, email := l.profileOf(ctx, m.UserID); name != "" {
			view.Name = name
			if email != "" {
				view.Email = email
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// profileOf returns the cached profile name and email of userID, or empty strings.
func (l *Ledger) profileOf(ctx context.Context, userID string) (string, string) {
	if l.profiles == nil {
		return "", ""
	}
	p, ok, err := l.profiles.Lookup(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("ledger: profile lookup failed")
		return "", ""
	}
	if !ok {
		return "", ""
	}
	return p.Name, p.Email
}

// repairMembership reconciles the caller's membership before an operation proceeds.
// The creator is re-added when missing from members while the group is still in their
// index, and a listed member whose record is missing gets a zeroed record. Anyone else
// who is not listed gets ErrNotAMember.
// The caller must hold the group lock; g is updated in place.
func (l *Ledger) repairMembership(ctx context.Context, g *Group, userID string) (Member, error) {
	if !g.HasMember(userID) {
		if userID != g.CreatedBy {
			return Member{}, ErrNotAMember
		}
		// A creator who left on purpose no longer has the group in their index.
		ids, err := l.loadIndex(ctx, userID)
		if err != nil {
			return Member{}, err
		}
		if indexOf(ids, g.ID) < 0 {
			return Member{}, ErrNotAMember
		}
		if err := l.addMember(ctx, g, userID); err != nil {
			return Member{}, err
		}
		log.WithFields(log.Fields{"group_id": g.ID, "user_id": userID}).Warn("ledger: creator re-added to members")
	}

	m, err := l.getMember(ctx, g.ID, userID)
	if err == nil {
		return m, nil
	}
	if !isNotFound(err) {
		return Member{}, err
	}
	m, err = l.joinMember(ctx, g.ID, userID)
	if err != nil {
		return Member{}, err
	}
	log.WithFields(log.Fields{"group_id": g.ID, "user_id": userID}).Warn("ledger: missing member record recreated")
	return m, nil
}

// memberGroup returns the group after making sure userID belongs to it. The lock is
// only taken when a repair is needed.
func (l *Ledger) memberGroup(ctx context.Context, groupID, userID string) (Group, error) {
	g, err := l.loadGroup(ctx, groupID)
	if err != nil {
		return Group{}, err
	}
	if g.HasMember(userID) {
		_, errMember := l.getMember(ctx, groupID, userID)
		if errMember == nil {
			return g, nil
		}
		if !isNotFound(errMember) {
			return Group{}, errMember
		}
	} else if userID != g.CreatedBy {
		return Group{}, ErrNotAMember
	}

	release, errLock := l.lockGroup(ctx, groupID)
	if errLock != nil {
		return Group{}, errLock
	}
	defer release()
	g, err = l.loadGroup(ctx, groupID)
	if err != nil {
		return Group{}, err
	}
	if _, errRepair := l.repairMembership(ctx, &g, userID); errRepair != nil {
		return Group{}, errRepair
	}
	return g, nil
}

// loadIndex reads the user's group-membership index.
func (l *Ledger) loadIndex(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	if err := kv.GetJSON(ctx, l.store, userGroupsKey(userID), &ids); err != nil {
		if isNotFound(err) {
			return []string{}, nil
		}
		if errors.Is(err, kv.ErrUnavailable) {
			return nil, wrapStore("load group index", err)
		}
		return nil, fmt.Errorf("ledger: load group index: %w: %v", ErrCorruptRecord, err)
	}
	return ids, nil
}

// updateIndex applies fn to the user's index under the user's lock.
func (l *Ledger) updateIndex(ctx context.Context, userID string, fn func([]string) ([]string, bool)) error {
	release, errLock := l.locker.Lock(ctx, userLockKey(userID))
	if errLock != nil {
		return wrapStore("lock user", errLock)
	}
	defer release()

	ids, err := l.loadIndex(ctx, userID)
	if err != nil {
		return err
	}
	next, changed := fn(ids)
	if !changed {
		return nil
	}
	if errSet := kv.SetJSON(ctx, l.store, userGroupsKey(userID), next); errSet != nil {
		return wrapStore("save group index", errSet)
	}
	return nil
}

func (l *Ledger) addToIndex(ctx context.Context, userID, groupID string) error {
	return l.updateIndex(ctx, userID, func(ids []string) ([]string, bool) {
		if indexOf(ids, groupID) >= 0 {
			return ids, false
		}
		return append(ids, groupID), true
	})
}

func (l *Ledger) removeFromIndex(ctx context.Context, userID string, groupIDs ...string) error {
	return l.updateIndex(ctx, userID, func(ids []string) ([]string, bool) {
		next := ids
		for _, groupID := range groupIDs {
			next = without(next, groupID)
		}
		return next, len(next) != len(ids)
	})
}
