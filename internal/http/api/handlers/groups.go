package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tipidbuddy/tipidbuddy-server/internal/identity"
	"github.com/tipidbuddy/tipidbuddy-server/internal/ledger"
	"github.com/tipidbuddy/tipidbuddy-server/internal/metrics"
)

// GroupHandler serves the savings group endpoints.
type GroupHandler struct {
	ledger  *ledger.Ledger
	metrics *metrics.Recorder
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(l *ledger.Ledger, recorder *metrics.Recorder) *GroupHandler {
	return &GroupHandler{ledger: l, metrics: recorder}
}

type createGroupRequest struct {
	Name      string           `json:"name"`
	DailyGoal *decimal.Decimal `json:"dailyGoal"`
}

// Create creates a group owned by the caller.
func (h *GroupHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var body createGroupRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.DailyGoal == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	creator := identity.Identity{
		UserID:      userID,
		Email:       c.GetString(ContextUserEmail),
		DisplayName: c.GetString(ContextUserName),
	}
	g, err := h.ledger.CreateGroup(c.Request.Context(), body.Name, *body.DailyGoal, creator)
	if err != nil {
		writeError(c, "create group", err)
		return
	}
	h.metrics.GroupEvent("created")
	c.JSON(http.StatusCreated, gin.H{"group": groupJSON(g)})
}

type joinGroupRequest struct {
	InviteCode string `json:"inviteCode"`
}

// Join adds the caller to the group owning the invite code.
func (h *GroupHandler) Join(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var body joinGroupRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.InviteCode) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "inviteCode is required"})
		return
	}
	g, err := h.ledger.Join(c.Request.Context(), body.InviteCode, userID)
	if err != nil {
		writeError(c, "join group", err)
		return
	}
	h.metrics.GroupEvent("joined")
	c.JSON(http.StatusOK, gin.H{"group": groupJSON(g)})
}

// List returns the caller's groups.
func (h *GroupHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	groups, err := h.ledger.ListGroups(c.Request.Context(), userID)
	if err != nil {
		writeError(c, "list groups", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groupsJSON(groups)})
}

// Pending returns the caller's groups still waiting for today's submission.
func (h *GroupHandler) Pending(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	groups, err := h.ledger.PendingGroups(c.Request.Context(), userID)
	if err != nil {
		writeError(c, "pending groups", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groupsJSON(groups)})
}

// Get returns a group with its members.
func (h *GroupHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	g, members, err := h.ledger.GroupDetail(c.Request.Context(), c.Param("groupId"), userID)
	if err != nil {
		writeError(c, "group detail", err)
		return
	}
	out := make([]gin.H, 0, len(members))
	for _, m := range members {
		out = append(out, memberJSON(m))
	}
	c.JSON(http.StatusOK, gin.H{"group": groupJSON(g), "members": out})
}

// Leaderboard returns the group's members ranked by total contributions.
func (h *GroupHandler) Leaderboard(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	entries, err := h.ledger.Leaderboard(c.Request.Context(), c.Param("groupId"), userID)
	if err != nil {
		writeError(c, "leaderboard", err)
		return
	}
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"userId":             e.UserID,
			"name":               e.Name,
			"currentStreak":      e.CurrentStreak,
			"totalContributions": e.TotalContributions.InexactFloat64(),
			"lastSubmission":     timeOrNil(e.LastSubmission),
		})
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": out})
}

type submitRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// Submit records the caller's savings for today.
func (h *GroupHandler) Submit(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var body submitRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		h.metrics.Submission(metrics.OutcomeInvalid, false)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Amount == nil {
		h.metrics.Submission(metrics.OutcomeInvalid, false)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	res, err := h.ledger.Submit(c.Request.Context(), c.Param("groupId"), userID, *body.Amount)
	if err != nil {
		h.metrics.Submission(submitOutcome(err), false)
		writeError(c, "submit", err)
		return
	}
	h.metrics.Submission(metrics.OutcomeAccepted, res.GroupStreakAdvanced)
	c.JSON(http.StatusOK, gin.H{
		"success":            res.Accepted,
		"groupStreakUpdated": res.GroupStreakAdvanced,
		"groupStreak":        res.NewGroupStreak,
		"member":             memberJSON(res.Member),
	})
}

// Leave removes the caller from the group.
func (h *GroupHandler) Leave(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := h.ledger.Leave(c.Request.Context(), c.Param("groupId"), userID); err != nil {
		writeError(c, "leave group", err)
		return
	}
	h.metrics.GroupEvent("left")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func submitOutcome(err error) string {
	status, _ := statusOf(err)
	switch status {
	case http.StatusConflict:
		return metrics.OutcomeAlreadyToday
	case http.StatusForbidden:
		return metrics.OutcomeNotAMember
	case http.StatusNotFound:
		return metrics.OutcomeGroupNotFound
	case http.StatusBadRequest:
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}
