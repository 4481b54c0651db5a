// internal/web/journal_handlers.go
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxJournalLimit = 500

// GET /api/journal/stats
func (s *Server) getJournalStats(c *gin.Context) {
	stats, err := s.engine.JournalStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// GET /api/journal/alerts?limit=N
func (s *Server) getJournalAlerts(c *gin.Context) {
	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxJournalLimit {
		limit = maxJournalLimit
	}

	alerts, err := s.engine.JournalAlerts(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  alerts,
		"count": len(alerts),
	})
}

// DELETE /api/journal/purge - apply the retention policy now
func (s *Server) purgeJournal(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	deleted, err := s.engine.PurgeJournal(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	logrus.WithField("deleted", deleted).Info("Journal purged on request")
	c.JSON(http.StatusOK, gin.H{
		"message":   "Journal purged",
		"deleted":   deleted,
		"timestamp": time.Now(),
	})
}

// GET /api/notifications
func (s *Server) getNotificationState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data":      s.engine.NotificationState(),
		"bot_token": maskToken(s.config.Discord.BotToken),
	})
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}
