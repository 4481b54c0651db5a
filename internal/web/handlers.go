// internal/web/handlers.go
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fleetwatch/internal/monitoring"
)

const defaultJournalLimit = 50

type IntervalRequest struct {
	Seconds int `json:"seconds" binding:"required"`
}

type TestAlertRequest struct {
	Level       string `json:"level"`
	RequestedBy string `json:"requested_by"`
}

// StatusSummary counts monitors per status.
type StatusSummary struct {
	Online   int `json:"online"`
	Degraded int `json:"degraded"`
	Offline  int `json:"offline"`
	Unknown  int `json:"unknown"`
}

func (s *Server) liveness(c *gin.Context) {
	c.String(http.StatusOK, "fleetwatch is running")
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"version":   Version,
	})
}

// GET /api/status
func (s *Server) getStatus(c *gin.Context) {
	snapshots := s.engine.StatusSnapshot()

	var summary StatusSummary
	for _, snap := range snapshots {
		switch snap.Status {
		case monitoring.StatusOnline:
			summary.Online++
		case monitoring.StatusDegraded:
			summary.Degraded++
		case monitoring.StatusOffline:
			summary.Offline++
		default:
			summary.Unknown++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":    snapshots,
		"summary": summary,
		"count":   len(snapshots),
	})
}

// GET /api/alerts?count=N
func (s *Server) getAlerts(c *gin.Context) {
	count := monitoring.DefaultAlertCount
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "count must be an integer"})
			return
		}
		count = n
	}

	alerts := s.engine.RecentAlerts(count)
	c.JSON(http.StatusOK, gin.H{
		"data":  alerts,
		"count": len(alerts),
	})
}

// GET /api/services/:name
func (s *Server) getService(c *gin.Context) {
	detail, err := s.engine.ServiceDetail(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": detail})
}

// POST /api/refresh
func (s *Server) refreshDashboard(c *gin.Context) {
	if err := s.engine.ForceRefresh(c.Request.Context()); err != nil {
		logrus.WithError(err).Error("Forced dashboard refresh failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to refresh dashboard"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Dashboard refreshed",
		"handle":  s.engine.DashboardHandle(),
	})
}

// PUT /api/services/:name/interval
func (s *Server) setInterval(c *gin.Context) {
	var req IntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := s.engine.SetInterval(c.Param("name"), req.Seconds)
	if err != nil {
		respondError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"monitor":  snap.ID,
		"interval": snap.Interval,
	}).Info("Polling interval updated")

	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// POST /api/services/:name/test
func (s *Server) sendTestAlert(c *gin.Context) {
	var req TestAlertRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.RequestedBy == "" {
		req.RequestedBy = c.ClientIP()
	}

	alert, err := s.engine.InjectTestAlert(c.Param("name"), req.Level, req.RequestedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": alert})
}

// respondError maps engine errors to status codes.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, monitoring.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, monitoring.ErrUnknownService):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, monitoring.ErrJournalDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logrus.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
