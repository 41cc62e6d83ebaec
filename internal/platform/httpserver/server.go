package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	engine "chant/contexts/deliberation/engine"
	enginerrors "chant/contexts/deliberation/engine/domain/errors"
	enginehttp "chant/contexts/deliberation/engine/transport/http"
	_ "chant/internal/platform/httpserver/docs"

	httpSwagger "github.com/swaggo/http-swagger"
)

type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
	addr   string
	engine engine.Module
}

func New(engineModule engine.Module, logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		addr:   addr,
		engine: engineModule,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /v1/deliberations", s.handleCreateDeliberation)
	s.mux.HandleFunc("GET /v1/deliberations/{deliberation_id}", s.handleGetDeliberation)
	s.mux.HandleFunc("GET /v1/deliberations/{deliberation_id}/state", s.handleDeliberationState)
	s.mux.HandleFunc("POST /v1/deliberations/{deliberation_id}/ideas", s.handleSubmitIdea)
	s.mux.HandleFunc("GET /v1/deliberations/{deliberation_id}/ideas", s.handleListIdeas)
	s.mux.HandleFunc("POST /v1/deliberations/{deliberation_id}/open-voting", s.handleOpenVoting)
	s.mux.HandleFunc("POST /v1/deliberations/{deliberation_id}/challenge-round", s.handleChallengeRound)
	s.mux.HandleFunc("POST /v1/deliberations/{deliberation_id}/close", s.handleCloseDeliberation)

	s.mux.HandleFunc("GET /v1/cells/{cell_id}", s.handleCellView)
	s.mux.HandleFunc("GET /v1/cells/{cell_id}/results", s.handleCellResults)
	s.mux.HandleFunc("POST /v1/cells/{cell_id}/reservations", s.handleReserveSeat)
	s.mux.HandleFunc("POST /v1/cells/{cell_id}/votes", s.handleCastVote)
	s.mux.HandleFunc("POST /v1/cells/{cell_id}/comments", s.handlePostComment)

	s.mux.HandleFunc("POST /v1/comments/{comment_id}/upvote", s.handleUpvoteComment)
}

func (s *Server) handleCreateDeliberation(w http.ResponseWriter, r *http.Request) {
	var req enginehttp.CreateDeliberationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.engine.Handler.CreateDeliberationHandler(r.Context(), req)
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetDeliberation(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.Handler.GetDeliberationHandler(r.Context(), r.PathValue("deliberation_id"))
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeliberationState(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.Handler.DeliberationStateHandler(r.Context(), r.PathValue("deliberation_id"))
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitIdea(w http.ResponseWriter, r *http.Request) {
	authorID := resolveParticipantID(r)
	if authorID == "" {
		writeEngineError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	var req enginehttp.SubmitIdeaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.engine.Handler.SubmitIdeaHandler(r.Context(), r.PathValue("deliberation_id"), authorID, req)
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListIdeas(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.Handler.ListIdeasHandler(r.Context(), r.PathValue("deliberation_id"))
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenVoting(w http.ResponseWriter, r *http.Request) {
	req := enginehttp.OpenVotingRequest{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEngineError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
			return
		}
	}
	resp, err := s.engine.Handler.OpenVotingHandler(r.Context(), r.PathValue("deliberation_id"), req)
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChallengeRound(w http.ResponseWriter, r *http.Request) {
	req := enginehttp.ChallengeRoundRequest{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEngineError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
			return
		}
	}
	resp, err := s.engine.Handler.ChallengeRoundHandler(r.Context(), r.PathValue("deliberation_id"), req)
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCloseDeliberation(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.Handler.CloseDeliberationHandler(r.Context(), r.PathValue("deliberation_id"))
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCellView(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.Handler.CellViewHandler(r.Context(), r.PathValue("cell_id"), resolveParticipantID(r))
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCellResults(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.Handler.CellResultsHandler(r.Context(), r.PathValue("cell_id"))
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReserveSeat(w http.ResponseWriter, r *http.Request) {
	participantID := resolveParticipantID(r)
	if participantID == "" {
		writeEngineError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	resp, err := s.engine.Handler.ReserveSeatHandler(r.Context(), r.PathValue("cell_id"), participantID)
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	participantID := resolveParticipantID(r)
	if participantID == "" {
		writeEngineError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	var req enginehttp.CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.engine.Handler.CastVoteHandler(r.Context(), r.PathValue("cell_id"), participantID, req)
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePostComment(w http.ResponseWriter, r *http.Request) {
	authorID := resolveParticipantID(r)
	if authorID == "" {
		writeEngineError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	var req enginehttp.PostCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.engine.Handler.PostCommentHandler(r.Context(), r.PathValue("cell_id"), authorID, req)
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleUpvoteComment(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.Handler.UpvoteCommentHandler(r.Context(), r.PathValue("comment_id"))
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeEngineDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, enginerrors.ErrInvalidInput),
		errors.Is(err, enginerrors.ErrInvalidAllocationSum),
		errors.Is(err, enginerrors.ErrDuplicateIdea),
		errors.Is(err, enginerrors.ErrIdeaNotInCell):
		writeEngineError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, enginerrors.ErrDeliberationNotFound),
		errors.Is(err, enginerrors.ErrIdeaNotFound),
		errors.Is(err, enginerrors.ErrCellNotFound),
		errors.Is(err, enginerrors.ErrCommentNotFound):
		writeEngineError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, enginerrors.ErrNotEligible),
		errors.Is(err, enginerrors.ErrNotAParticipant),
		errors.Is(err, enginerrors.ErrHumanPriority):
		writeEngineError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, enginerrors.ErrPhaseClosed),
		errors.Is(err, enginerrors.ErrDuplicateSubmission),
		errors.Is(err, enginerrors.ErrCapacityExceeded),
		errors.Is(err, enginerrors.ErrCellFull),
		errors.Is(err, enginerrors.ErrConflict):
		writeEngineError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, enginerrors.ErrDeadlinePassed),
		errors.Is(err, enginerrors.ErrCellClosed):
		writeEngineError(w, http.StatusGone, "closed", err.Error())
	default:
		writeEngineError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeEngineError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, enginehttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func resolveParticipantID(r *http.Request) string {
	if fromHeader := strings.TrimSpace(r.Header.Get("X-User-Id")); fromHeader != "" {
		return fromHeader
	}
	return strings.TrimSpace(r.Header.Get("X-Participant-Id"))
}
