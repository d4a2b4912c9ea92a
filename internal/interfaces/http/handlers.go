package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/pkg/logger"
)

type Handler struct {
	service domain.GovernanceService
	logger  *logger.Logger
}

func NewHandler(service domain.GovernanceService, logger *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type proposalRequest struct {
	Proposer    string          `json:"proposer" binding:"required"`
	Actions     []actionRequest `json:"actions" binding:"required"`
	Description string          `json:"description"`
}

type actionRequest struct {
	Target  string `json:"target"`
	Value   int64  `json:"value"`
	Payload []byte `json:"payload"`
}

type voteRequest struct {
	Voter   string `json:"voter" binding:"required"`
	Support string `json:"support" binding:"required"`
	Reason  string `json:"reason"`
}

type actorRequest struct {
	Actor string `json:"actor" binding:"required"`
}

func (h *Handler) CreateProposal(c *gin.Context) {
	var req proposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	actions := make([]domain.Action, 0, len(req.Actions))
	for _, a := range req.Actions {
		actions = append(actions, domain.Action{Target: a.Target, Value: a.Value, Payload: a.Payload})
	}

	proposal, err := h.service.Propose(req.Proposer, actions, req.Description)
	if err != nil {
		h.renderError(c, err, "Failed to create proposal")
		return
	}

	c.JSON(http.StatusCreated, domain.ProposalResponse{Proposal: proposal, State: domain.StatePending})
}

func (h *Handler) GetProposal(c *gin.Context) {
	resp, err := h.service.GetProposal(c.Param("id"))
	if err != nil {
		h.renderError(c, err, "Failed to retrieve proposal")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListProposals(c *gin.Context) {
	proposals, err := h.service.ListProposals()
	if err != nil {
		h.renderError(c, err, "Failed to list proposals")
		return
	}
	if proposals == nil {
		proposals = []domain.ProposalResponse{}
	}
	c.JSON(http.StatusOK, domain.ProposalListResponse{Data: proposals})
}

func (h *Handler) CastVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	support, err := domain.ParseVoteSupport(req.Support)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Support must be one of for, against, abstain"})
		return
	}

	record, err := h.service.CastVote(c.Param("id"), req.Voter, support, req.Reason)
	if err != nil {
		h.renderError(c, err, "Failed to cast vote")
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (h *Handler) QueueProposal(c *gin.Context) {
	op, err := h.service.Queue(c.Param("id"))
	if err != nil {
		h.renderError(c, err, "Failed to queue proposal")
		return
	}
	c.JSON(http.StatusOK, op)
}

func (h *Handler) CancelProposal(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	if err := h.service.CancelProposal(c.Param("id"), req.Actor); err != nil {
		h.renderError(c, err, "Failed to cancel proposal")
		return
	}

	state, err := h.service.State(c.Param("id"))
	if err != nil {
		h.renderError(c, err, "Failed to read proposal state")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "state": state})
}

func (h *Handler) GetOperation(c *gin.Context) {
	op, err := h.service.GetOperation(c.Param("id"))
	if err != nil {
		h.renderError(c, err, "Failed to retrieve operation")
		return
	}
	c.JSON(http.StatusOK, op)
}

func (h *Handler) ExecuteOperation(c *gin.Context) {
	op, err := h.service.Execute(c.Param("id"))
	if err != nil {
		h.renderError(c, err, "Failed to execute operation")
		return
	}
	c.JSON(http.StatusOK, op)
}

func (h *Handler) CancelOperation(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	op, err := h.service.CancelOperation(c.Param("id"), req.Actor)
	if err != nil {
		h.renderError(c, err, "Failed to cancel operation")
		return
	}
	c.JSON(http.StatusOK, op)
}

func (h *Handler) GetPower(c *gin.Context) {
	var seqPtr *uint64
	if seqStr := c.Query("seq"); seqStr != "" {
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid seq parameter. Must be a non-negative integer"})
			return
		}
		seqPtr = &seq
	}

	power, atSeq, err := h.service.GetPower(c.Param("account"), seqPtr)
	if err != nil {
		h.renderError(c, err, "Failed to resolve voting power")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": c.Param("account"),
		"seq":     atSeq,
		"power":   power,
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	if _, err := h.service.GetStats(); err != nil {
		h.logger.Errorw("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) GetReadiness(c *gin.Context) {
	if _, err := h.service.GetStats(); err != nil {
		h.logger.Errorw("Readiness check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.GetStats()
	if err != nil {
		h.logger.Errorw("Failed to get stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve statistics"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// renderError maps the engine's error taxonomy to HTTP statuses: validation
// 400, lookup 404, authorization 403, policy 409, execution 502/504.
func (h *Handler) renderError(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrProposalNotFound), errors.Is(err, domain.ErrOperationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyProposal),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAccount),
		errors.Is(err, domain.ErrInvalidSupport):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientPower),
		errors.Is(err, domain.ErrNoVotingPower),
		errors.Is(err, domain.ErrAlreadyVoted),
		errors.Is(err, domain.ErrVotingClosed),
		errors.Is(err, domain.ErrDelayTooShort),
		errors.Is(err, domain.ErrMaxDelayExceeded),
		errors.Is(err, domain.ErrTooEarly),
		errors.Is(err, domain.ErrAlreadyExecuted),
		errors.Is(err, domain.ErrAlreadyCanceled),
		errors.Is(err, domain.ErrNotCancellable),
		errors.Is(err, domain.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrExecutionTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrExecutionFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Errorw(msg, "error", err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
