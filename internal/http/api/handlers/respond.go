package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/tipidbuddy/tipidbuddy-server/internal/ledger"
)

// Context keys set by the auth middleware.
const (
	ContextUserID    = "userID"
	ContextUserEmail = "userEmail"
	ContextUserName  = "userName"
)

// currentUserID returns the authenticated user id, writing 401 when absent.
func currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

// writeError maps ledger errors to HTTP responses. Unknown errors are logged and
// reported as 500 without details.
func writeError(c *gin.Context, op string, err error) {
	status, message := statusOf(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"op":      op,
			"user_id": c.GetString(ContextUserID),
		}).Error("request failed")
	}
	c.JSON(status, gin.H{"error": message})
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrGroupNotFound):
		return http.StatusNotFound, "Group not found"
	case errors.Is(err, ledger.ErrInvalidInviteCode):
		return http.StatusNotFound, "Invalid invite code"
	case errors.Is(err, ledger.ErrNotAMember):
		return http.StatusForbidden, "Not a member of this group"
	case errors.Is(err, ledger.ErrAlreadyMember):
		return http.StatusConflict, "Already a member of this group"
	case errors.Is(err, ledger.ErrAlreadySubmittedToday):
		return http.StatusConflict, "Already submitted today"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, ledger.ErrInvalidName):
		return http.StatusBadRequest, "Invalid name"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func groupJSON(g ledger.Group) gin.H {
	members := g.Members
	if members == nil {
		members = []string{}
	}
	return gin.H{
		"id":            g.ID,
		"name":          g.Name,
		"dailyGoal":     g.DailyGoal.InexactFloat64(),
		"inviteCode":    g.InviteCode,
		"createdBy":     g.CreatedBy,
		"createdAt":     g.CreatedAt,
		"members":       members,
		"currentStreak": g.CurrentStreak,
		"bestStreak":    g.BestStreak,
	}
}

func groupsJSON(groups []ledger.Group) []gin.H {
	out := make([]gin.H, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupJSON(g))
	}
	return out
}

func memberJSON(m ledger.Member) gin.H {
	return gin.H{
		"userId":             m.UserID,
		"name":               m.Name,
		"email":              m.Email,
		"joinedAt":           m.JoinedAt,
		"currentStreak":      m.CurrentStreak,
		"totalContributions": m.TotalContributions.InexactFloat64(),
		"lastSubmission":     timeOrNil(m.LastSubmission),
	}
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
