package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rustyeddy/mtftrader/confluence"
	"github.com/rustyeddy/mtftrader/execution"
	"github.com/rustyeddy/mtftrader/risk"
	"github.com/rustyeddy/mtftrader/trader"
)

func (s *Server) handleAnalyzeAll(c *gin.Context) {
	successResponse(c, s.trader.AnalyzeAll(c.Request.Context()))
}

func (s *Server) handleAnalyze(c *gin.Context) {
	d, err := s.trader.Analyze(c.Request.Context(), c.Param("instrument"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, confluence.ErrInsufficientResolutions) {
			status = http.StatusUnprocessableEntity
		}
		errorResponse(c, status, err.Error())
		return
	}
	successResponse(c, d)
}

func (s *Server) handleRunCycle(c *gin.Context) {
	rep, err := s.trader.RunCycle(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, rep)
}

// handleSubmitTrade answers 200 for both approvals and risk rejections; the
// decision says which.
func (s *Server) handleSubmitTrade(c *gin.Context) {
	var req risk.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid trade request: "+err.Error())
		return
	}
	if req.Instrument == "" {
		errorResponse(c, http.StatusBadRequest, "instrument is required")
		return
	}

	d, oid, err := s.trader.SubmitTrade(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, risk.ErrStaleAccountState):
			errorResponse(c, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, execution.ErrQueueFull), errors.Is(err, execution.ErrStopped):
			errorResponse(c, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, trader.ErrInvalidTrade):
			errorResponse(c, http.StatusBadRequest, err.Error())
		default:
			// instrument or price lookups at the gateway
			errorResponse(c, http.StatusBadGateway, err.Error())
		}
		return
	}
	successResponse(c, gin.H{"decision": d, "order_id": oid})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	r, ok := s.trader.Order(c.Param("id"))
	if !ok {
		errorResponse(c, http.StatusNotFound, "order not found or still pending")
		return
	}
	successResponse(c, r)
}

func (s *Server) handleGetPositions(c *gin.Context) {
	successResponse(c, s.trader.PositionSnapshot())
}

func (s *Server) handleClosePosition(c *gin.Context) {
	var body struct {
		Volume float64 `json:"volume"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	oid, err := s.trader.ClosePosition(c.Param("id"), body.Volume)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, execution.ErrPositionNotFound) {
			status = http.StatusNotFound
		}
		errorResponse(c, status, err.Error())
		return
	}
	successResponse(c, gin.H{"order_id": oid})
}

func (s *Server) handleRiskSummary(c *gin.Context) {
	sum, err := s.trader.RiskSummary(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	successResponse(c, sum)
}

func (s *Server) handleSetRegime(c *gin.Context) {
	var body struct {
		Regime string `json:"regime" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	r, err := risk.ParseRegime(body.Regime)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.trader.SetRegime(r, body.Reason); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	successResponse(c, gin.H{"regime": r})
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "emergency stop via API"
	}
	ids, err := s.trader.EmergencyStop(c.Request.Context(), body.Reason)
	resp := gin.H{"orders": ids}
	if err != nil {
		resp["errors"] = err.Error()
	}
	successResponse(c, resp)
}

func (s *Server) handleGetHalts(c *gin.Context) {
	successResponse(c, gin.H{"halted": s.trader.HaltedInstruments()})
}

func (s *Server) handleResume(c *gin.Context) {
	instr := c.Param("instrument")
	if err := s.trader.ResumeInstrument(instr); err != nil {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	successResponse(c, gin.H{"resumed": instr})
}
