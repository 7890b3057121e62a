package ratelimit

import "strings"

// KeyForUser builds the limiter key of an authenticated user; empty when limiting is off.
func KeyForUser(userID string, limit int) string {
	userID = strings.TrimSpace(userID)
	if userID == "" || limit <= 0 {
		return ""
	}
	return "u:" + userID
}
