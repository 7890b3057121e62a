package ledger

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Join adds userID to the group owning inviteCode.
func (l *Ledger) Join(ctx context.Context, inviteCode, userID string) (Group, error) {
	found, err := l.FindByInviteCode(ctx, inviteCode)
	if err != nil {
		return Group{}, err
	}
	if found.HasMember(userID) {
		return Group{}, ErrAlreadyMember
	}

	release, errLock := l.lockGroup(ctx, found.ID)
	if errLock != nil {
		return Group{}, errLock
	}
	defer release()

	g, err := l.loadGroup(ctx, found.ID)
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			return Group{}, ErrInvalidInviteCode
		}
		return Group{}, err
	}
	if g.HasMember(userID) {
		return Group{}, ErrAlreadyMember
	}

	_, errStale := l.getMember(ctx, g.ID, userID)
	switch {
	case errStale == nil, errors.Is(errStale, ErrCorruptRecord):
		log.WithFields(log.Fields{"group_id": g.ID, "user_id": userID}).Warn("ledger: dropping stale member record")
		if errDelete := l.deleteMember(ctx, g.ID, userID); errDelete != nil {
			return Group{}, errDelete
		}
	case !isNotFound(errStale):
		return Group{}, errStale
	}

	if _, errMember := l.joinMember(ctx, g.ID, userID); errMember != nil {
		return Group{}, errMember
	}
	if errAdd := l.addMember(ctx, &g, userID); errAdd != nil {
		l.discard(ctx, memberKey(g.ID, userID))
		return Group{}, errAdd
	}
	if errIndex := l.addToIndex(ctx, userID, g.ID); errIndex != nil {
		return Group{}, errIndex
	}
	log.WithFields(log.Fields{"group_id": g.ID, "user_id": userID}).Info("ledger: member joined")
	return g, nil
}

// Leave removes userID from the group. The last member to leave deletes the group.
func (l *Ledger) Leave(ctx context.Context, groupID, userID string) error {
	release, errLock := l.lockGroup(ctx, groupID)
	if errLock != nil {
		return errLock
	}
	defer release()

	g, err := l.loadGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if _, errRemove := l.removeMember(ctx, &g, userID); errRemove != nil {
		return errRemove
	}
	if errDelete := l.deleteMember(ctx, groupID, userID); errDelete != nil {
		return errDelete
	}
	if errIndex := l.removeFromIndex(ctx, userID, groupID); errIndex != nil {
		return errIndex
	}
	log.WithFields(log.Fields{"group_id": groupID, "user_id": userID}).Info("ledger: member left")
	return nil
}

// ListGroups returns the groups userID belongs to, in join order. Index entries
// pointing at deleted groups or groups that no longer list the user are pruned.
func (l *Ledger) ListGroups(ctx context.Context, userID string) ([]Group, error) {
	ids, err := l.loadIndex(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups := make([]Group, 0, len(ids))
	var stale []string
	for _, groupID := range ids {
		g, errLoad := l.loadGroup(ctx, groupID)
		switch {
		case errLoad == nil && (g.HasMember(userID) || g.CreatedBy == userID):
			groups = append(groups, g)
		case errLoad == nil, errors.Is(errLoad, ErrGroupNotFound):
			stale = append(stale, groupID)
		default:
			return nil, errLoad
		}
	}
	if len(stale) > 0 {
		if errPrune := l.removeFromIndex(ctx, userID, stale...); errPrune != nil {
			log.WithError(errPrune).WithField("user_id", userID).Warn("ledger: prune group index failed")
		}
	}
	return groups, nil
}

// GroupDetail returns the group and its members for a member caller.
func (l *Ledger) GroupDetail(ctx context.Context, groupID, userID string) (Group, []Member, error) {
	g, err := l.memberGroup(ctx, groupID, userID)
	if err != nil {
		return Group{}, nil, err
	}
	members, err := l.listMembers(ctx, g)
	if err != nil {
		return Group{}, nil, err
	}
	return g, members, nil
}

// UpdateProfileName stores a new display name and copies it onto every member record
// of the user. It returns the number of member records updated.
func (l *Ledger) UpdateProfileName(ctx context.Context, userID, name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrInvalidName
	}
	if l.profiles != nil {
		if _, err := l.profiles.SetName(ctx, userID, name); err != nil {
			return 0, wrapStore("save profile", err)
		}
	}
	groups, err := l.ListGroups(ctx, userID)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, g := range groups {
		ok, errRename := l.renameMember(ctx, g.ID, userID, name)
		if errRename != nil {
			return updated, errRename
		}
		if ok {
			updated++
		}
	}
	return updated, nil
}

func (l *Ledger) renameMember(ctx context.Context, groupID, userID, name string) (bool, error) {
	release, errLock := l.lockGroup(ctx, groupID)
	if errLock != nil {
		return false, errLock
	}
	defer release()

	m, err := l.getMember(ctx, groupID, userID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	m.Name = name
	if errSave := l.saveMember(ctx, groupID, m); errSave != nil {
		return false, errSave
	}
	return true, nil
}

// PendingGroups returns the caller's groups in which they have not submitted today.
func (l *Ledger) PendingGroups(ctx context.Context, userID string) ([]Group, error) {
	groups, err := l.ListGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	_, today := l.today()
	pending := make([]Group, 0, len(groups))
	for _, g := range groups {
		m, errMember := l.getMember(ctx, g.ID, userID)
		if errMember != nil && !isNotFound(errMember) {
			return nil, errMember
		}
		if errMember == nil && m.SubmittedOn(today) {
			continue
		}
		pending = append(pending, g)
	}
	return pending, nil
}
