package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/storyweave/storyweave/pkg/faults"
)

// kindStatus maps error kinds to HTTP statuses.
var kindStatus = map[faults.Kind]int{
	faults.KindUnauthenticated:      http.StatusUnauthorized,
	faults.KindUnauthorized:         http.StatusNotFound, // never confirm another user's resources
	faults.KindConsentRequired:      http.StatusForbidden,
	faults.KindQuotaExceeded:        http.StatusTooManyRequests,
	faults.KindSafetyBlocked:        http.StatusOK, // safety pivots are successful turns
	faults.KindIntentClassification: http.StatusOK,
	faults.KindExternalAgent:        http.StatusBadGateway,
	faults.KindPersistence:          http.StatusServiceUnavailable,
	faults.KindDecrypt:              http.StatusServiceUnavailable,
	faults.KindTimeout:              http.StatusGatewayTimeout,
	faults.KindInternal:             http.StatusInternalServerError,
}

// kindMessage maps error kinds to child-safe user-visible messages. Raw
// error text never reaches a client.
var kindMessage = map[faults.Kind]string{
	faults.KindUnauthenticated: "Please sign in to continue.",
	faults.KindUnauthorized:    "We couldn't find that.",
	faults.KindConsentRequired: "A grown-up needs to say it's okay first. We've let them know!",
	faults.KindQuotaExceeded:   "You've made so many wonderful stories! Ask a grown-up about making more.",
	faults.KindExternalAgent:   "Our story helpers are taking a little break. Try again in a moment!",
	faults.KindPersistence:     "Something got mixed up on our end. Let's try again in a moment.",
	faults.KindDecrypt:         "We couldn't open your saved story time. Let's start a fresh one!",
	faults.KindTimeout:         "That took a bit too long. Let's try again!",
	faults.KindInternal:        "Oops, something unexpected happened. Let's try again!",
}

// respondError logs the real error and answers with the kind's status and
// child-safe message.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	kind := faults.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	message, ok := kindMessage[kind]
	if !ok {
		message = kindMessage[faults.KindInternal]
	}

	logger.Error("request failed",
		"path", c.FullPath(),
		"kind", kind,
		"error", err)

	c.JSON(status, gin.H{
		"success": false,
		"error":   string(kind),
		"message": message,
	})
}
