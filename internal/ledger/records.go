package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	inviteCodeLength   = 6
	inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	dayLayout          = "2006-01-02"
)

// Group is a savings group sharing a daily goal and a group streak.
type Group struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	DailyGoal     decimal.Decimal `json:"dailyGoal"`
	InviteCode    string          `json:"inviteCode"`
	CreatedBy     string          `json:"createdBy"`
	CreatedAt     time.Time       `json:"createdAt"`
	Members       []string        `json:"members"`
	CurrentStreak int             `json:"currentStreak"`
	BestStreak    int             `json:"bestStreak"`
	LastStreakDay string          `json:"lastStreakDay,omitempty"` // UTC day of the last group streak advance.
}

// HasMember reports whether userID is listed in the group.
func (g *Group) HasMember(userID string) bool {
	return indexOf(g.Members, userID) >= 0
}

// Member is one user's participation record within a group.
type Member struct {
	UserID             string          `json:"userId"`
	Name               string          `json:"name,omitempty"`
	Email              string          `json:"email,omitempty"`
	JoinedAt           time.Time       `json:"joinedAt"`
	CurrentStreak      int             `json:"currentStreak"`
	TotalContributions decimal.Decimal `json:"totalContributions"`
	LastSubmission     *time.Time      `json:"lastSubmission"`
}

// SubmittedOn reports whether the member's last submission falls on day.
func (m *Member) SubmittedOn(day string) bool {
	return m.LastSubmission != nil && dayOf(*m.LastSubmission) == day
}

func groupKey(groupID string) string { return "group:" + groupID }

func inviteKey(code string) string { return "invite:" + code }

func memberKey(groupID, userID string) string { return "group:" + groupID + ":member:" + userID }

func userGroupsKey(userID string) string { return "user:" + userID + ":groups" }

func groupLockKey(groupID string) string { return "lock:group:" + groupID }

func userLockKey(userID string) string { return "lock:user:" + userID }

func inviteLockKey(code string) string { return "lock:invite:" + code }

// decodeGroup parses and validates a stored group.
func decodeGroup(raw []byte) (Group, error) {
	var g Group
	if err := json.Unmarshal(raw, &g); err != nil {
		return Group{}, fmt.Errorf("%w: group: %v", ErrCorruptRecord, err)
	}
	switch {
	case strings.TrimSpace(g.ID) == "":
		return Group{}, fmt.Errorf("%w: group without id", ErrCorruptRecord)
	case strings.TrimSpace(g.CreatedBy) == "":
		return Group{}, fmt.Errorf("%w: group %s without creator", ErrCorruptRecord, g.ID)
	case !validInviteCode(g.InviteCode):
		return Group{}, fmt.Errorf("%w: group %s invite code %q", ErrCorruptRecord, g.ID, g.InviteCode)
	case g.DailyGoal.IsNegative() || !boundedExponent(g.DailyGoal):
		return Group{}, fmt.Errorf("%w: group %s daily goal %s", ErrCorruptRecord, g.ID, g.DailyGoal)
	case g.CurrentStreak < 0 || g.BestStreak < g.CurrentStreak:
		return Group{}, fmt.Errorf("%w: group %s streak %d/%d", ErrCorruptRecord, g.ID, g.CurrentStreak, g.BestStreak)
	}
	seen := make(map[string]struct{}, len(g.Members))
	for _, userID := range g.Members {
		if strings.TrimSpace(userID) == "" {
			return Group{}, fmt.Errorf("%w: group %s has an empty member id", ErrCorruptRecord, g.ID)
		}
		if _, dup := seen[userID]; dup {
			return Group{}, fmt.Errorf("%w: group %s lists %s twice", ErrCorruptRecord, g.ID, userID)
		}
		seen[userID] = struct{}{}
	}
	if g.Members == nil {
		g.Members = []string{}
	}
	return g, nil
}

// decodeMember parses and validates a stored member record of userID.
func decodeMember(raw []byte, userID string) (Member, error) {
	var m Member
	if err := json.Unmarshal(raw, &m); err != nil {
		return Member{}, fmt.Errorf("%w: member: %v", ErrCorruptRecord, err)
	}
	switch {
	case m.UserID != userID:
		return Member{}, fmt.Errorf("%w: member record of %q stored under %q", ErrCorruptRecord, m.UserID, userID)
	case m.CurrentStreak < 0:
		return Member{}, fmt.Errorf("%w: member %s negative streak", ErrCorruptRecord, userID)
	case m.TotalContributions.IsNegative() || !boundedExponent(m.TotalContributions):
		return Member{}, fmt.Errorf("%w: member %s contributions out of range", ErrCorruptRecord, userID)
	}
	return m, nil
}

func validInviteCode(code string) bool {
	if len(code) != inviteCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(inviteCodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// normalizeInviteCode trims and upper-cases user input.
func normalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func dayOf(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

func indexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}
