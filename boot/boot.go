// Package boot reconstructs live election aggregates from durable storage
// on process start (spec §9's votes-reconstruction open question,
// resolved in SPEC_FULL §5/§6.8 by the addition of the votes audit table).
package boot

import (
	"context"
	"crypto/rsa"
	"encoding/hex"
	"fmt"

	"github.com/criptocracia/ec/election"
	"github.com/criptocracia/ec/store"
)

// Recover loads every election row, its candidates, still-authorized
// voters, used tokens, and the ordered vote sequence, and rebuilds each as
// an in-memory *election.Election. signer supplies the EC's private key so
// recovered elections can keep issuing tokens; pass nil on a read-only
// replica that only needs to observe state.
func Recover(ctx context.Context, st *store.Store, signer *rsa.PrivateKey) (map[string]*election.Election, error) {
	rows, err := st.ListElections(ctx, store.MaxPageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("boot: list elections: %w", err)
	}

	elections := make(map[string]*election.Election, len(rows))
	for _, row := range rows {
		e, err := recoverOne(ctx, st, row, signer)
		if err != nil {
			return nil, fmt.Errorf("boot: recover election %s: %w", row.ID, err)
		}
		elections[e.ID] = e
	}
	return elections, nil
}

func recoverOne(ctx context.Context, st *store.Store, row store.ElectionRow, signer *rsa.PrivateKey) (*election.Election, error) {
	_, candidateRows, err := st.GetElection(ctx, row.ID)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	candidates := make([]election.Candidate, len(candidateRows))
	for i, c := range candidateRows {
		candidates[i] = election.Candidate{ID: c.CandidateID, Name: c.Name}
	}

	var e *election.Election
	if signer != nil {
		e, err = election.New(row.ID, row.Name, candidates, row.StartTime, row.EndTime, signer)
		if err != nil {
			return nil, fmt.Errorf("rebuild aggregate: %w", err)
		}
	} else {
		e = &election.Election{
			ID:               row.ID,
			Name:             row.Name,
			Candidates:       candidates,
			StartTime:        row.StartTime,
			EndTime:          row.EndTime,
			RSAPubKeyDER:     row.RSAPubKey,
			AuthorizedVoters: make(map[string]struct{}),
			UsedTokens:       make(map[string]struct{}),
		}
	}

	status, err := election.ParseStatus(row.Status)
	if err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}
	e.Status = status

	voters, err := st.ListVoters(ctx, row.ID, store.MaxPageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("load voters: %w", err)
	}
	for _, v := range voters {
		e.AuthorizedVoters[v.VoterPK] = struct{}{}
	}

	tokens, err := st.ListUsedTokens(ctx, row.ID)
	if err != nil {
		return nil, fmt.Errorf("load used tokens: %w", err)
	}
	for _, t := range tokens {
		if _, err := hex.DecodeString(t); err != nil {
			return nil, fmt.Errorf("decode used token hash %q: %w", t, err)
		}
		e.UsedTokens[t] = struct{}{}
	}

	votes, err := st.ListVotesOrdered(ctx, row.ID)
	if err != nil {
		return nil, fmt.Errorf("load votes: %w", err)
	}
	e.Votes = votes

	return e, nil
}
