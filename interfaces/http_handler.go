package interfaces

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"interview-coordinator/domain"
	"interview-coordinator/usecase/lifecycle"
	"interview-coordinator/usecase/scoring"
)

type SessionService interface {
	Create(ctx context.Context, in lifecycle.CreateInput) (*domain.Session, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
	Transition(ctx context.Context, id string, next domain.SessionStatus) (*domain.Session, error)
	End(ctx context.Context, id string) (*domain.Session, error)
	MarkStarted(ctx context.Context, id string) error
}

type AnswerService interface {
	Submit(ctx context.Context, sessionID string, answers []domain.Answer) (*domain.Session, error)
	Reevaluate(ctx context.Context, sessionID string) (int, error)
}

type ScoringService interface {
	RecordManualScore(ctx context.Context, sessionID string, in scoring.ManualScoreInput) (*scoring.Outcome, error)
	RecomputeRankings(ctx context.Context, jobID uint) ([]domain.RankedApplication, error)
	RankedCandidates(ctx context.Context, jobID uint) ([]domain.RankedApplication, error)
	IngestEvaluationResult(ctx context.Context, sessionID string, snap domain.EvaluationSnapshot) (*domain.EvaluationResult, error)
}

type HTTPHandler struct {
	Sessions SessionService
	Answers  AnswerService
	Scoring  ScoringService
}

func NewHTTPHandler(router *gin.Engine, sessions SessionService, answers AnswerService, scores ScoringService) *HTTPHandler {
	h := &HTTPHandler{Sessions: sessions, Answers: answers, Scoring: scores}

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessionsGroup := router.Group("/sessions")
	sessionsGroup.POST("", h.CreateSession)
	sessionsGroup.GET("/:id", h.GetSession)
	sessionsGroup.POST("/:id/status", h.UpdateStatus)
	sessionsGroup.POST("/:id/end", h.EndSession)
	sessionsGroup.POST("/:id/evaluations", h.Reevaluate)
	sessionsGroup.POST("/:id/evaluation-results", h.IngestEvaluationResult)
	sessionsGroup.POST("/:id/manual-score", h.RecordManualScore)

	router.POST("/jobs/:id/rankings", h.RecomputeRankings)
	router.GET("/jobs/:id/rankings", h.GetRankings)

	return h
}

// statusFor maps an error code to its HTTP status.
func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeConflict, domain.ErrCodeInvalidTransition, domain.ErrCodeAlreadyRecorded, domain.ErrCodeRoomFull,
		domain.ErrCodeUnknownQuestion:
		return http.StatusConflict
	case domain.ErrCodeNotMember, domain.ErrCodeForbidden:
		return http.StatusForbidden
	case domain.ErrCodePersistence:
		return http.StatusServiceUnavailable
	case domain.ErrCodeEvaluation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	std := domain.Normalize(err)
	c.JSON(statusFor(std.Code), gin.H{"error": std})
}

func badRequest(c *gin.Context, err error) {
	respondError(c, domain.NewValidationError("%s", err.Error()))
}

func parseJobID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		respondError(c, domain.NewValidationError("invalid job id"))
		return 0, false
	}
	return uint(id), true
}

func (h *HTTPHandler) CreateSession(c *gin.Context) {
	var req lifecycle.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.Sessions.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// GetSession returns the full session; clients use it to resync after a
// missed real-time update.
func (h *HTTPHandler) GetSession(c *gin.Context) {
	sess, err := h.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *HTTPHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status domain.SessionStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.Sessions.Transition(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *HTTPHandler) EndSession(c *gin.Context) {
	sess, err := h.Sessions.End(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *HTTPHandler) Reevaluate(c *gin.Context) {
	n, err := h.Answers.Reevaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"dispatched": n})
}

func (h *HTTPHandler) IngestEvaluationResult(c *gin.Context) {
	var req domain.EvaluationSnapshot
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.Scoring.IngestEvaluationResult(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *HTTPHandler) RecordManualScore(c *gin.Context) {
	var req scoring.ManualScoreInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Scoring.RecordManualScore(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// RecomputeRankings answers 207 when some applications could not be updated.
func (h *HTTPHandler) RecomputeRankings(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	ranked, err := h.Scoring.RecomputeRankings(c.Request.Context(), jobID)
	var bulk *domain.BulkUpdateError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"jobId": jobID, "rankings": ranked})
	case errors.As(err, &bulk):
		failed := make([]uint, 0, len(bulk.Failed))
		for id := range bulk.Failed {
			failed = append(failed, id)
		}
		sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
		c.JSON(http.StatusMultiStatus, gin.H{"jobId": jobID, "rankings": ranked, "failed": failed})
	default:
		respondError(c, err)
	}
}

func (h *HTTPHandler) GetRankings(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	ranked, err := h.Scoring.RankedCandidates(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": jobID, "rankings": ranked})
}
