package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// SubmitResult reports the outcome of an accepted submission.
type SubmitResult struct {
	Accepted            bool
	GroupStreakAdvanced bool
	NewGroupStreak      int
	Member              Member
}

// Submit records userID's savings amount for today in groupID.
//
// The member streak grows by one when the previous submission was yesterday and
// restarts at one otherwise. Once every listed member has submitted today the group
// streak advances, at most once per UTC day.
func (l *Ledger) Submit(ctx context.Context, groupID, userID string, amount decimal.Decimal) (SubmitResult, error) {
	amount, errAmount := validAmount(amount)
	if errAmount != nil {
		return SubmitResult{}, errAmount
	}

	release, errLock := l.lockGroup(ctx, groupID)
	if errLock != nil {
		return SubmitResult{}, errLock
	}
	defer release()

	g, err := l.loadGroup(ctx, groupID)
	if err != nil {
		return SubmitResult{}, err
	}
	member, err := l.repairMembership(ctx, &g, userID)
	if err != nil {
		return SubmitResult{}, err
	}

	now, today := l.today()
	if member.SubmittedOn(today) {
		return SubmitResult{}, ErrAlreadySubmittedToday
	}
	previous := member

	yesterday := now.AddDate(0, 0, -1).Format(dayLayout)
	if member.SubmittedOn(yesterday) {
		member.CurrentStreak++
	} else {
		member.CurrentStreak = 1
	}
	member.LastSubmission = &now
	member.TotalContributions = member.TotalContributions.Add(amount)
	if errSave := l.saveMember(ctx, groupID, member); errSave != nil {
		return SubmitResult{}, errSave
	}

	result := SubmitResult{Accepted: true, NewGroupStreak: g.CurrentStreak, Member: member}

	everyone, err := l.allSubmitted(ctx, g, today)
	if err != nil {
		l.restoreMember(ctx, groupID, previous)
		return SubmitResult{}, err
	}
	if !everyone || g.LastStreakDay == today {
		return result, nil
	}

	g.CurrentStreak++
	if g.CurrentStreak > g.BestStreak {
		g.BestStreak = g.CurrentStreak
	}
	g.LastStreakDay = today
	if errSave := l.saveGroup(ctx, g); errSave != nil {
		l.restoreMember(ctx, groupID, previous)
		return SubmitResult{}, errSave
	}

	log.WithFields(log.Fields{"group_id": groupID, "streak": g.CurrentStreak}).Info("ledger: group streak advanced")
	result.GroupStreakAdvanced = true
	result.NewGroupStreak = g.CurrentStreak
	return result, nil
}

// allSubmitted reports whether every listed member submitted on day.
func (l *Ledger) allSubmitted(ctx context.Context, g Group, day string) (bool, error) {
	if len(g.Members) == 0 {
		return false, nil
	}
	records, err := l.loadMembers(ctx, g)
	if err != nil {
		return false, err
	}
	for _, m := range records {
		if m == nil || !m.SubmittedOn(day) {
			return false, nil
		}
	}
	return true, nil
}

// restoreMember rolls back a member update whose group update failed.
func (l *Ledger) restoreMember(ctx context.Context, groupID string, previous Member) {
	if err := l.saveMember(ctx, groupID, previous); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"group_id": groupID,
			"user_id":  previous.UserID,
		}).Error("ledger: rollback of member submission failed")
	}
}
