package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/criptocracia/ec/election"
)

// response is the {success, message, ...} JSON envelope used for the admin
// wire format, matching the JSON handler convention in
// gateway/routes/lending.go.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Server wraps a Facade behind a chi.Mux. The wire contract is not part of
// the tested protocol surface (spec §1); this exists for ambient-stack
// completeness the way every teacher service carries an HTTP façade.
type Server struct {
	facade *Facade
	router chi.Router
}

// NewServer builds the router, grounded on gateway/routes/router.go's
// CORS-then-routes composition.
func NewServer(facade *Facade, allowedOrigins []string) *Server {
	s := &Server{facade: facade}
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", s.healthz)
	r.Route("/elections", func(er chi.Router) {
		er.Post("/", s.createElection)
		er.Get("/", s.listElections)
		er.Route("/{electionID}", func(one chi.Router) {
			one.Get("/", s.getElection)
			one.Post("/cancel", s.cancelElection)
			one.Post("/voters", s.addVoter)
			one.Get("/voters", s.listVoters)
			one.Post("/candidates", s.addCandidate)
		})
	})

	s.router = r
	return s
}

// ServeHTTP lets Server itself act as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Success: true, Message: "ok"})
}

type createElectionRequest struct {
	Name       string                `json:"name"`
	Candidates []election.Candidate  `json:"candidates"`
	StartTime  int64                 `json:"start_time"`
	EndTime    int64                 `json:"end_time"`
}

func (s *Server) createElection(w http.ResponseWriter, r *http.Request) {
	var req createElectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, err := s.facade.AddElection(r.Context(), NewElectionRequest{
		Name:       req.Name,
		Candidates: req.Candidates,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
	})
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Success: true, Data: e})
}

func (s *Server) listElections(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	rows, err := s.facade.ListElections(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: rows})
}

func (s *Server) getElection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "electionID")
	row, candidates, err := s.facade.GetElection(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: map[string]any{
		"election":   row,
		"candidates": candidates,
	}})
}

func (s *Server) cancelElection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "electionID")
	if err := s.facade.CancelElection(r.Context(), id); err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true})
}

type addVoterRequest struct {
	VoterPK string `json:"voter_pk"`
}

func (s *Server) addVoter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "electionID")
	var req addVoterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.facade.AddVoter(r.Context(), id, req.VoterPK); err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Success: true})
}

type addCandidateRequest struct {
	CandidateID uint8  `json:"candidate_id"`
	Name        string `json:"name"`
}

func (s *Server) addCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "electionID")
	var req addCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.facade.AddCandidate(r.Context(), id, req.CandidateID, req.Name); err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Success: true})
}

func (s *Server) listVoters(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "electionID")
	limit, offset := pagination(r)
	rows, err := s.facade.ListVoters(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: rows})
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, response{Success: false, Message: err.Error()})
}

func writeFacadeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidAdminInput) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
