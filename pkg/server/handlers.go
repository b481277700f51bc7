package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/arbiterhq/arbiter/pkg/auth"
	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/orchestrator"
	"github.com/arbiterhq/arbiter/pkg/specialist"
	"github.com/arbiterhq/arbiter/pkg/store"
)

// Service is the slice of the orchestrator the handlers call. Kept as an
// interface so handler tests run against a stub.
type Service interface {
	ProcessClaim(ctx context.Context, claim model.Claim) (*orchestrator.ClaimResult, error)
	RunSingleAgent(ctx context.Context, name string, claim model.Claim) (*orchestrator.SingleRunResult, error)
	ContinueSingleAgent(ctx context.Context, name, threadID, message, userToken string) (*orchestrator.SingleRunResult, error)
	ListAgents(ctx context.Context) []orchestrator.AgentInfo
	BumpAgentVersion(ctx context.Context, name string, next model.AgentVersion) (*model.AgentDefinition, error)
	GetExecution(ctx context.Context, executionID string) (*model.AgentExecution, error)
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*model.AgentExecution, error)
	ClaimHistory(ctx context.Context, claimID string) ([]*model.AgentExecution, error)
	ClaimTokenSummary(ctx context.Context, claimID string) (model.ClaimTokenSummary, error)
	TokenAnalytics(ctx context.Context, agentType string, daysBack int) (*orchestrator.TokenAnalytics, error)
}

var decisionPattern = regexp.MustCompile(`\b(APPROVE|DENY|INVESTIGATE)\b`)

// ExtractDecision pulls the primary recommendation keyword out of a
// supervisor synthesis. Empty when the synthesis carries none.
func ExtractDecision(synthesis string) string {
	return decisionPattern.FindString(synthesis)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

type processClaimResponse struct {
	*orchestrator.ClaimResult
	Decision string `json:"decision,omitempty"`
}

func (s *Server) handleProcessClaim(w http.ResponseWriter, r *http.Request) {
	var claim model.Claim
	if err := decodeJSON(r, &claim); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := model.ValidateClaim(claim); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	claim.BearerToken = auth.BearerFromContext(r.Context())

	result, err := s.service.ProcessClaim(r.Context(), claim)
	if err != nil {
		writeError(w, errStatus(err, http.StatusBadGateway), err)
		return
	}
	writeJSON(w, http.StatusOK, processClaimResponse{
		ClaimResult: result,
		Decision:    ExtractDecision(result.FinalSynthesis),
	})
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "agent")

	var claim model.Claim
	if err := decodeJSON(r, &claim); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := model.ValidateClaim(claim); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	claim.BearerToken = auth.BearerFromContext(r.Context())

	result, err := s.service.RunSingleAgent(r.Context(), name, claim)
	if err != nil {
		writeError(w, errStatus(err, http.StatusBadGateway), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type continueRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

func (s *Server) handleContinueAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "agent")

	var req continueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ThreadID) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("thread_id is required"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("message is required"))
		return
	}

	result, err := s.service.ContinueSingleAgent(r.Context(), name,
		req.ThreadID, req.Message, auth.BearerFromContext(r.Context()))
	if err != nil {
		writeError(w, errStatus(err, http.StatusBadGateway), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type listAgentsResponse struct {
	Agents []orchestrator.AgentInfo `json:"agents"`
	Total  int                      `json:"total"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.service.ListAgents(r.Context())
	writeJSON(w, http.StatusOK, listAgentsResponse{Agents: agents, Total: len(agents)})
}

func (s *Server) handleBumpVersion(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "agent")
	if name == specialist.Supervisor {
		writeError(w, http.StatusBadRequest, fmt.Errorf("the supervisor is not versioned"))
		return
	}

	var next model.AgentVersion
	if err := decodeJSON(r, &next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(next.Version) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("version is required"))
		return
	}

	def, err := s.service.BumpAgentVersion(r.Context(), name, next)
	if err != nil {
		writeError(w, errStatus(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

type claimHistoryResponse struct {
	ClaimID      string                  `json:"claim_id"`
	Executions   []*model.AgentExecution `json:"executions"`
	Total        int                     `json:"total"`
	TokenSummary model.ClaimTokenSummary `json:"token_summary"`
}

func (s *Server) handleClaimHistory(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "claimID")

	execs, err := s.service.ClaimHistory(r.Context(), claimID)
	if err != nil {
		writeError(w, errStatus(err, http.StatusInternalServerError), err)
		return
	}
	summary, err := s.service.ClaimTokenSummary(r.Context(), claimID)
	if err != nil {
		writeError(w, errStatus(err, http.StatusInternalServerError), err)
		return
	}
	if execs == nil {
		execs = []*model.AgentExecution{}
	}
	writeJSON(w, http.StatusOK, claimHistoryResponse{
		ClaimID:      claimID,
		Executions:   execs,
		Total:        len(execs),
		TokenSummary: summary,
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.service.GetExecution(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		writeError(w, errStatus(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

type listExecutionsResponse struct {
	Executions []*model.AgentExecution `json:"executions"`
	Total      int                     `json:"total"`
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ExecutionFilter{
		ClaimID:      q.Get("claim_id"),
		Status:       model.ExecutionStatus(q.Get("status")),
		WorkflowType: q.Get("workflow_type"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a non-negative integer, got %q", raw))
			return
		}
		filter.Limit = limit
	}

	execs, err := s.service.ListExecutions(r.Context(), filter)
	if err != nil {
		writeError(w, errStatus(err, http.StatusInternalServerError), err)
		return
	}
	if execs == nil {
		execs = []*model.AgentExecution{}
	}
	writeJSON(w, http.StatusOK, listExecutionsResponse{Executions: execs, Total: len(execs)})
}

func (s *Server) handleTokenAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	daysBack := 0
	if raw := q.Get("days_back"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("days_back must be a positive integer, got %q", raw))
			return
		}
		daysBack = parsed
	}

	analytics, err := s.service.TokenAnalytics(r.Context(), q.Get("agent_type"), daysBack)
	if err != nil {
		writeError(w, errStatus(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}
