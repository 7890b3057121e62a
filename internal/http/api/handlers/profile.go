package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tipidbuddy/tipidbuddy-server/internal/ledger"
)

// ProfileHandler serves profile endpoints.
type ProfileHandler struct {
	ledger *ledger.Ledger
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(l *ledger.Ledger) *ProfileHandler {
	return &ProfileHandler{ledger: l}
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

// Update changes the caller's display name across all their groups.
func (h *ProfileHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var body updateProfileRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	updated, err := h.ledger.UpdateProfileName(c.Request.Context(), userID, body.Name)
	if err != nil {
		writeError(c, "update profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updatedCount": updated})
}
