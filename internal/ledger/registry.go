package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/tipidbuddy/tipidbuddy-server/internal/identity"
	"github.com/tipidbuddy/tipidbuddy-server/internal/kv"
)

const maxInviteCodeAttempts = 10

// CreateGroup creates a group owned by creator, its invite mapping and the creator's member record.
func (l *Ledger) CreateGroup(ctx context.Context, name string, dailyGoal decimal.Decimal, creator identity.Identity) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, ErrInvalidName
	}
	dailyGoal, errGoal := validAmount(dailyGoal)
	if errGoal != nil {
		return Group{}, errGoal
	}

	now, _ := l.today()
	group := Group{
		ID:        uuid.NewString(),
		Name:      name,
		DailyGoal: dailyGoal,
		CreatedBy: creator.UserID,
		CreatedAt: now,
		Members:   []string{creator.UserID},
	}

	release, errLock := l.lockGroup(ctx, group.ID)
	if errLock != nil {
		return Group{}, errLock
	}
	defer release()

	if _, errMember := l.joinMember(ctx, group.ID, creator.UserID); errMember != nil {
		return Group{}, errMember
	}
	code, errCode := l.allocateInviteCode(ctx, group.ID)
	if errCode != nil {
		l.discard(ctx, memberKey(group.ID, creator.UserID))
		return Group{}, errCode
	}
	group.InviteCode = code
	if errSave := l.saveGroup(ctx, group); errSave != nil {
		l.discard(ctx, memberKey(group.ID, creator.UserID), inviteKey(code))
		return Group{}, errSave
	}
	if errIndex := l.addToIndex(ctx, creator.UserID, group.ID); errIndex != nil {
		return Group{}, errIndex
	}

	log.WithFields(log.Fields{"group_id": group.ID, "user_id": creator.UserID}).Info("ledger: group created")
	return group, nil
}

// allocateInviteCode reserves a fresh invite code pointing at groupID.
func (l *Ledger) allocateInviteCode(ctx context.Context, groupID string) (string, error) {
	for attempt := 0; attempt < maxInviteCodeAttempts; attempt++ {
		code, errGen := generateInviteCode(l.random)
		if errGen != nil {
			return "", fmt.Errorf("ledger: generate invite code: %w", errGen)
		}
		reserved, errReserve := l.reserveInviteCode(ctx, code, groupID)
		if errReserve != nil {
			return "", errReserve
		}
		if reserved {
			return code, nil
		}
		log.WithField("invite_code", code).Debug("ledger: invite code collision, retrying")
	}
	return "", ErrInviteCodeExhausted
}

// reserveInviteCode writes invite:{code} unless another group already owns it.
func (l *Ledger) reserveInviteCode(ctx context.Context, code, groupID string) (bool, error) {
	release, errLock := l.locker.Lock(ctx, inviteLockKey(code))
	if errLock != nil {
		return false, wrapStore("lock invite code", errLock)
	}
	defer release()

	_, errGet := l.store.Get(ctx, inviteKey(code))
	switch {
	case errGet == nil:
		return false, nil
	case !isNotFound(errGet):
		return false, wrapStore("check invite code", errGet)
	}
	if errSet := kv.SetJSON(ctx, l.store, inviteKey(code), groupID); errSet != nil {
		return false, wrapStore("save invite code", errSet)
	}
	return true, nil
}

// generateInviteCode draws inviteCodeLength characters uniformly from the alphabet.
func generateInviteCode(r io.Reader) (string, error) {
	const limit = 256 - 256%len(inviteCodeAlphabet)
	out := make([]byte, 0, inviteCodeLength)
	buf := make([]byte, inviteCodeLength*2)
	for len(out) < inviteCodeLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)])
			if len(out) == inviteCodeLength {
				break
			}
		}
	}
	return string(out), nil
}

// FindByInviteCode resolves an invite code (case-insensitive) to its group.
func (l *Ledger) FindByInviteCode(ctx context.Context, code string) (Group, error) {
	code = normalizeInviteCode(code)
	if !validInviteCode(code) {
		return Group{}, ErrInvalidInviteCode
	}
	var groupID string
	if err := kv.GetJSON(ctx, l.store, inviteKey(code), &groupID); err != nil {
		if isNotFound(err) {
			return Group{}, ErrInvalidInviteCode
		}
		return Group{}, wrapStore("find invite code", err)
	}
	g, err := l.loadGroup(ctx, groupID)
	if errors.Is(err, ErrGroupNotFound) {
		return Group{}, ErrInvalidInviteCode
	}
	return g, err
}

// addMember appends userID to the group's members and persists it.
func (l *Ledger) addMember(ctx context.Context, g *Group, userID string) error {
	if g.HasMember(userID) {
		return ErrAlreadyMember
	}
	g.Members = append(g.Members, userID)
	return l.saveGroup(ctx, *g)
}

// removeMember drops userID from the group. The group and its invite mapping are
// deleted when no members remain. deleted reports that case.
func (l *Ledger) removeMember(ctx context.Context, g *Group, userID string) (bool, error) {
	if !g.HasMember(userID) {
		return false, ErrNotAMember
	}
	g.Members = without(g.Members, userID)
	if len(g.Members) > 0 {
		return false, l.saveGroup(ctx, *g)
	}

	if errDelete := l.store.Delete(ctx, groupKey(g.ID)); errDelete != nil {
		return false, wrapStore("delete group", errDelete)
	}
	var owner string
	errInvite := kv.GetJSON(ctx, l.store, inviteKey(g.InviteCode), &owner)
	switch {
	case errInvite == nil && owner == g.ID:
		if errDelete := l.store.Delete(ctx, inviteKey(g.InviteCode)); errDelete != nil {
			return true, wrapStore("delete invite code", errDelete)
		}
	case errInvite != nil && !isNotFound(errInvite):
		return true, wrapStore("load invite code", errInvite)
	}
	log.WithField("group_id", g.ID).Info("ledger: empty group deleted")
	return true, nil
}

// discard deletes keys written by a failed operation.
func (l *Ledger) discard(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := l.store.Delete(ctx, key); err != nil {
			log.WithError(err).WithField("key", key).Warn("ledger: cleanup failed")
		}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, kv.ErrNotFound)
}
