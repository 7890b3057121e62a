package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// LeaderboardEntry is one row of a group's leaderboard.
type LeaderboardEntry struct {
	UserID             string
	Name               string
	CurrentStreak      int
	TotalContributions decimal.Decimal
	LastSubmission     *time.Time
}

// Leaderboard ranks the group's members by total contributions, highest first.
// Ties keep the group's member order.
func (l *Ledger) Leaderboard(ctx context.Context, groupID, userID string) ([]LeaderboardEntry, error) {
	g, err := l.memberGroup(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	members, err := l.listMembers(ctx, g)
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(members))
	for _, m := range members {
		entries = append(entries, LeaderboardEntry{
			UserID:             m.UserID,
			Name:               m.Name,
			CurrentStreak:      m.CurrentStreak,
			TotalContributions: m.TotalContributions,
			LastSubmission:     m.LastSubmission,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalContributions.GreaterThan(entries[j].TotalContributions)
	})
	return entries, nil
}
