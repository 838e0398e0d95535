package api

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/trace-engine/internal/engine"
	"github.com/rawblock/trace-engine/internal/scheduler"
	"github.com/rawblock/trace-engine/pkg/models"
)

// REST surface over the trace lifecycle. The API layer owns request
// parsing and status-code mapping only; all lifecycle semantics live
// in the scheduler and all analysis lives in the engine.

type APIHandler struct {
	sched    *scheduler.Scheduler
	profiles *engine.ProfileStore
	wsHub    *Hub
	notifier *HubNotifier
}

func SetupRouter(sched *scheduler.Scheduler, profiles *engine.ProfileStore, wsHub *Hub, notifier *HubNotifier) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://rawblock.net,https://www.rawblock.net
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{sched: sched, profiles: profiles, wsHub: wsHub, notifier: notifier}
	limiter := NewRateLimiter(30, 10)

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)
		api.GET("/alerts", handler.handleRecentAlerts)
		api.GET("/window", handler.handleNextWindow)
		api.GET("/address/:address", handler.handleAddressProfile)

		protected := api.Group("")
		protected.Use(AuthMiddleware())
		{
			protected.POST("/trace", handler.handleSubmitTrace)
			protected.GET("/trace/:id", handler.handleGetTrace)
			protected.GET("/trace/:id/report", handler.handleGetReport)
			protected.POST("/trace/:id/process", handler.handleProcessPremium)
			protected.POST("/trace/:id/payment", handler.handleConfirmPayment)
			protected.DELETE("/trace/:id", handler.handleCancelTrace)
			protected.GET("/traces", handler.handleListTraces)
		}
	}

	// Serve Static Dashboard
	r.Static("/dashboard", "./public")

	return r
}

// handleSubmitTrace admits a new trace.
// POST /api/v1/trace { "address": "...", "currency": "BTC", "premium": false, "paid": false }
func (h *APIHandler) handleSubmitTrace(c *gin.Context) {
	var req struct {
		Address  string `json:"address" binding:"required"`
		Currency string `json:"currency" binding:"required"`
		Premium  bool   `json:"premium"`
		Paid     bool   `json:"paid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {address, currency, premium, paid}"})
		return
	}

	trace, err := h.sched.SubmitTrace(c.Request.Context(), req.Address, req.Currency, req.Premium, req.Paid)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidAddress) || errors.Is(err, engine.ErrUnsupportedCurrency) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to admit trace", "details": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, trace)
}

// handleGetTrace returns the current lifecycle record for a trace.
func (h *APIHandler) handleGetTrace(c *gin.Context) {
	trace, err := h.sched.GetTrace(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondTraceError(c, err)
		return
	}
	c.JSON(http.StatusOK, trace)
}

// handleGetReport returns the compiled report once the trace completed.
func (h *APIHandler) handleGetReport(c *gin.Context) {
	report, err := h.sched.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondTraceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleProcessPremium synchronously processes a queued premium trace
// and returns the report. This is the only synchronous analysis path.
func (h *APIHandler) handleProcessPremium(c *gin.Context) {
	report, err := h.sched.ProcessPremiumNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondTraceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleConfirmPayment moves a payment-gated premium trace into the queue.
func (h *APIHandler) handleConfirmPayment(c *gin.Context) {
	trace, err := h.sched.ConfirmPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondTraceError(c, err)
		return
	}
	c.JSON(http.StatusOK, trace)
}

// handleCancelTrace discards a trace that has not begun processing.
func (h *APIHandler) handleCancelTrace(c *gin.Context) {
	if err := h.sched.CancelTrace(c.Request.Context(), c.Param("id")); err != nil {
		respondTraceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// handleListTraces returns traces filtered by lifecycle state.
// GET /api/v1/traces?status=queued
func (h *APIHandler) handleListTraces(c *gin.Context) {
	status := models.TraceStatus(c.DefaultQuery("status", string(models.StatusQueued)))
	traces, err := h.sched.ListTraces(c.Request.Context(), status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list traces", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": traces, "count": len(traces)})
}

// handleAddressProfile looks up a known address profile. Unknown
// addresses 404 rather than triggering synthesis: profile synthesis is
// an engine-internal concern, not a read API.
func (h *APIHandler) handleAddressProfile(c *gin.Context) {
	profile, ok := h.profiles.Lookup(c.Param("address"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Address not in profile store"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// handleRecentAlerts returns the bounded terminal-transition history.
func (h *APIHandler) handleRecentAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": h.notifier.RecentAlerts()})
}

// handleNextWindow returns the upcoming free-tier batch window.
func (h *APIHandler) handleNextWindow(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nextBatchWindow": h.sched.NextWindow()})
}

// handleHealth returns engine status for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "RawBlock Wallet Trace Engine v1.0",
		"capabilities": gin.H{
			"premium_instant":  true,
			"weekly_batch":     true,
			"flow_analysis":    true,
			"risk_scoring":     true,
			"profile_seeding":  true,
			"synthetic_source": true,
		},
	})
}

// respondTraceError maps scheduler/store errors onto HTTP statuses.
func respondTraceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrTraceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Trace not found"})
	case errors.Is(err, scheduler.ErrReportNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "Report not ready"})
	case errors.Is(err, scheduler.ErrTraceFailed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Trace failed", "details": err.Error()})
	case errors.Is(err, scheduler.ErrNotPremium):
		c.JSON(http.StatusForbidden, gin.H{"error": "Instant processing requires a premium trace"})
	case errors.Is(err, scheduler.ErrPaymentPending):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment confirmation required"})
	case errors.Is(err, scheduler.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "Illegal lifecycle transition"})
	case errors.Is(err, scheduler.ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": "Trace already processing or terminal"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
