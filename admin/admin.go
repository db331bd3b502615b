// Package admin implements the validated mutation and query surface an
// operator uses to run elections (spec §4.6): creating elections, adding
// voters and candidates, listing and inspecting state, and cancellation.
// Business-rule validation lives here; server.go wires it to HTTP.
package admin

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/criptocracia/ec/crypto/nostrkey"
	"github.com/criptocracia/ec/election"
	"github.com/criptocracia/ec/store"
)

// ErrInvalidAdminInput is returned for any request that fails façade-level
// validation before reaching the election aggregate (spec §7).
var ErrInvalidAdminInput = errors.New("admin: invalid input")

// Publisher is the subset of relay.Dispatcher admin needs to broadcast
// state after a mutation.
type Publisher interface {
	PublishState(ctx context.Context, e *election.Election) error
}

// Registry is the subset of relay.Dispatcher admin needs to add and mutate
// live elections, kept separate from Publisher so tests can fake each half
// independently. Mutation always goes through MutateElection so an
// HTTP-triggered change never races the event loop's own locked mutations
// of the same *election.Election (spec §5).
type Registry interface {
	AddElection(e *election.Election)
	MutateElection(electionID string, fn func(*election.Election) error) (*election.Election, error)
}

// Facade implements every admin operation spec §4.6 names.
type Facade struct {
	store    *store.Store
	registry Registry
	publish  Publisher
	signer   *rsa.PrivateKey
	log      *slog.Logger
}

// New constructs a Facade. signer is the EC's RSA private key, copied into
// every election created through AddElection (spec invariant 6).
func New(st *store.Store, registry Registry, publish Publisher, signer *rsa.PrivateKey, log *slog.Logger) *Facade {
	if log == nil {
		log = slog.Default()
	}
	return &Facade{store: st, registry: registry, publish: publish, signer: signer, log: log}
}

// NewElectionRequest is the validated input to AddElection.
type NewElectionRequest struct {
	Name       string
	Candidates []election.Candidate
	StartTime  int64
	EndTime    int64
}

// AddElection creates a new Open election, persists it, registers it with
// the live registry, and publishes its initial state.
func (f *Facade) AddElection(ctx context.Context, req NewElectionRequest) (*election.Election, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAdminInput)
	}
	if len(req.Candidates) == 0 {
		return nil, fmt.Errorf("%w: at least one candidate is required", ErrInvalidAdminInput)
	}
	if req.EndTime <= req.StartTime {
		return nil, fmt.Errorf("%w: end_time must be after start_time", ErrInvalidAdminInput)
	}

	id := uuid.New().String()[:8]
	e, err := election.New(id, req.Name, req.Candidates, req.StartTime, req.EndTime, f.signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAdminInput, err)
	}

	candidateRows := make([]store.CandidateRow, len(e.Candidates))
	for i, c := range e.Candidates {
		candidateRows[i] = store.CandidateRow{CandidateID: c.ID, Name: c.Name}
	}
	if err := f.store.UpsertElection(ctx, store.ElectionRow{
		ID:        e.ID,
		Name:      e.Name,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
		Status:    e.Status.String(),
		RSAPubKey: e.RSAPubKeyDER,
	}, candidateRows); err != nil {
		return nil, fmt.Errorf("admin: persist election: %w", err)
	}

	f.registry.AddElection(e)
	if err := f.publish.PublishState(ctx, e); err != nil {
		f.log.Error("publish new election failed", "error", err, "election_id", e.ID)
	}
	return e, nil
}

// AddVoter registers a voter key for an election that is still Open.
func (f *Facade) AddVoter(ctx context.Context, electionID, voterPK string) error {
	e, err := f.registry.MutateElection(electionID, func(e *election.Election) error {
		return e.RegisterVoter(voterPK)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAdminInput, err)
	}
	// Store the same hex-normalized form RegisterVoter put into
	// AuthorizedVoters, so boot.Recover rebuilds an identical set instead of
	// leaving the original bech32 form behind.
	normalized, err := nostrkey.Normalize(voterPK)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAdminInput, err)
	}
	if err := f.store.InsertVoter(ctx, e.ID, normalized); err != nil {
		return fmt.Errorf("admin: persist voter: %w", err)
	}
	return nil
}

// AddCandidate appends a new ballot option to an existing election
// (spec.md:133), rejecting a candidate id already taken within it.
func (f *Facade) AddCandidate(ctx context.Context, electionID string, candidateID uint8, name string) error {
	c := election.Candidate{ID: candidateID, Name: name}
	e, err := f.registry.MutateElection(electionID, func(e *election.Election) error {
		return e.AddCandidate(c)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAdminInput, err)
	}
	if err := f.store.InsertCandidate(ctx, store.CandidateRow{ElectionID: e.ID, CandidateID: c.ID, Name: c.Name}); err != nil {
		return fmt.Errorf("admin: persist candidate: %w", err)
	}
	if err := f.publish.PublishState(ctx, e); err != nil {
		f.log.Error("publish new candidate failed", "error", err, "election_id", e.ID)
	}
	return nil
}

// ListElections returns a page of election summaries.
func (f *Facade) ListElections(ctx context.Context, limit, offset int) ([]store.ElectionRow, error) {
	rows, err := f.store.ListElections(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("admin: list elections: %w", err)
	}
	return rows, nil
}

// GetElection returns one election's row and candidate rows.
func (f *Facade) GetElection(ctx context.Context, electionID string) (*store.ElectionRow, []store.CandidateRow, error) {
	row, candidates, err := f.store.GetElection(ctx, electionID)
	if err != nil {
		return nil, nil, fmt.Errorf("admin: get election: %w", err)
	}
	return row, candidates, nil
}

// ListVoters returns a page of still-authorized voters for an election.
func (f *Facade) ListVoters(ctx context.Context, electionID string, limit, offset int) ([]store.VoterRow, error) {
	rows, err := f.store.ListVoters(ctx, electionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("admin: list voters: %w", err)
	}
	return rows, nil
}

// CancelElection marks an election Canceled, a terminal state reachable
// from any non-Canceled status (spec §4.6).
func (f *Facade) CancelElection(ctx context.Context, electionID string) error {
	e, err := f.registry.MutateElection(electionID, func(e *election.Election) error {
		if !e.Cancel() {
			return errors.New("election is already canceled")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAdminInput, err)
	}
	if err := f.store.UpdateStatus(ctx, e.ID, e.Status.String()); err != nil {
		return fmt.Errorf("admin: persist cancellation: %w", err)
	}
	if err := f.publish.PublishState(ctx, e); err != nil {
		f.log.Error("publish cancellation failed", "error", err, "election_id", e.ID)
	}
	return nil
}
