package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Errors returned by Store, matching the error-kind table in spec §7.
var (
	ErrKeyAlreadyExists = errors.New("store: key already exists")
	ErrNotFound         = errors.New("store: not found")
)

const (
	// DefaultPageSize and MaxPageSize bound ListElections/ListVoters
	// pagination per spec §4.6.
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Store wraps a *gorm.DB with the election-domain contracts spec §4.2
// requires: linearizable election+candidates upsert, idempotent voter/
// token inserts, and an atomic remove-voter-on-issuance compensating
// delete, mirroring the transaction style of
// services/otc-gateway/server/server.go's appendEvent-in-Transaction
// pattern.
type Store struct {
	db *gorm.DB
}

// New wraps an already-connected, migrated *gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates every table this package defines.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("store: automigrate: %w", err)
	}
	return nil
}

// DB exposes the underlying connection, mainly for tests.
func (s *Store) DB() *gorm.DB { return s.db }

// UpsertElection writes the election row and its candidates in one
// transaction. Idempotent by primary key (spec §4.2 "Contracts").
func (s *Store) UpsertElection(ctx context.Context, row ElectionRow, candidates []CandidateRow) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "start_time", "end_time", "status", "rsa_pub_key", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("store: upsert election: %w", err)
		}
		for _, c := range candidates {
			c.ElectionID = row.ID
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "election_id"}, {Name: "candidate_id"}},
				DoNothing: true,
			}).Create(&c).Error; err != nil {
				return fmt.Errorf("store: upsert candidate: %w", err)
			}
		}
		return nil
	})
}

// UpdateStatus persists a status transition produced by
// election.UpdateStatusBasedOnTime or admin.CancelElection.
func (s *Store) UpdateStatus(ctx context.Context, electionID, status string) error {
	res := s.db.WithContext(ctx).Model(&ElectionRow{}).
		Where("id = ?", electionID).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("store: update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertVoter adds a voter to the still-authorized set. Idempotent
// (conflict -> no-op, spec §4.2).
func (s *Store) InsertVoter(ctx context.Context, electionID, voterPK string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&VoterRow{ElectionID: electionID, VoterPK: voterPK}).Error
	if err != nil {
		return fmt.Errorf("store: insert voter: %w", err)
	}
	return nil
}

// RemoveVoter deletes a voter from the authorized set — the durable
// mirror of the in-memory set removal in election.IssueToken (spec §4.2).
func (s *Store) RemoveVoter(ctx context.Context, electionID, voterPK string) error {
	if err := s.db.WithContext(ctx).
		Where("election_id = ? AND voter_pk = ?", electionID, voterPK).
		Delete(&VoterRow{}).Error; err != nil {
		return fmt.Errorf("store: remove voter: %w", err)
	}
	return nil
}

// RecordVote inserts the used-token row, the audit vote row, and
// increments the candidate's vote_count, all in one transaction — the
// durable mirror of election.ReceiveVote (spec §4.1 step 2-3, SPEC_FULL §5).
// Returns ErrKeyAlreadyExists if the token hash was already recorded.
func (s *Store) RecordVote(ctx context.Context, electionID, tokenHash string, ordinal int64, candidateID uint8) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&UsedTokenRow{ElectionID: electionID, TokenHash: tokenHash})
		if res.Error != nil {
			return fmt.Errorf("store: insert used token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrKeyAlreadyExists
		}
		if err := tx.Create(&VoteRow{ElectionID: electionID, Ordinal: ordinal, CandidateID: candidateID}).Error; err != nil {
			return fmt.Errorf("store: insert vote: %w", err)
		}
		if err := tx.Model(&CandidateRow{}).
			Where("election_id = ? AND candidate_id = ?", electionID, candidateID).
			UpdateColumn("vote_count", gorm.Expr("vote_count + 1")).Error; err != nil {
			return fmt.Errorf("store: increment vote count: %w", err)
		}
		return nil
	})
}

// InsertCandidate appends one candidate row to an already-existing
// election, the durable mirror of election.AddCandidate (spec.md:133).
// Returns ErrKeyAlreadyExists if the candidate id is already taken within
// the election.
func (s *Store) InsertCandidate(ctx context.Context, row CandidateRow) error {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("store: insert candidate: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrKeyAlreadyExists
	}
	return nil
}

// GetElection loads one election and its candidates.
func (s *Store) GetElection(ctx context.Context, id string) (*ElectionRow, []CandidateRow, error) {
	var row ElectionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("store: get election: %w", err)
	}
	var candidates []CandidateRow
	if err := s.db.WithContext(ctx).Where("election_id = ?", id).Order("candidate_id").Find(&candidates).Error; err != nil {
		return nil, nil, fmt.Errorf("store: list candidates: %w", err)
	}
	return &row, candidates, nil
}

// ListElections returns elections ordered by creation time with pagination
// clamped per spec §4.6 (default 100, max 1000).
func (s *Store) ListElections(ctx context.Context, limit, offset int) ([]ElectionRow, error) {
	limit = clampLimit(limit)
	var rows []ElectionRow
	if err := s.db.WithContext(ctx).Order("created_at").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list elections: %w", err)
	}
	return rows, nil
}

// ListVoters returns the still-authorized voters for an election.
func (s *Store) ListVoters(ctx context.Context, electionID string, limit, offset int) ([]VoterRow, error) {
	limit = clampLimit(limit)
	var rows []VoterRow
	if err := s.db.WithContext(ctx).Where("election_id = ?", electionID).
		Order("voter_pk").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list voters: %w", err)
	}
	return rows, nil
}

// ListUsedTokens returns every used h_n hash recorded for an election, for
// C8 recovery.
func (s *Store) ListUsedTokens(ctx context.Context, electionID string) ([]string, error) {
	var rows []UsedTokenRow
	if err := s.db.WithContext(ctx).Where("election_id = ?", electionID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list used tokens: %w", err)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.TokenHash
	}
	return out, nil
}

// ListVotesOrdered returns the exact durable vote sequence for an
// election, ordered by ordinal, for C8 recovery (SPEC_FULL §5/§6.8).
func (s *Store) ListVotesOrdered(ctx context.Context, electionID string) ([]uint8, error) {
	var rows []VoteRow
	if err := s.db.WithContext(ctx).Where("election_id = ?", electionID).
		Order("ordinal").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list votes: %w", err)
	}
	out := make([]uint8, len(rows))
	for i, r := range rows {
		out[i] = r.CandidateID
	}
	return out, nil
}

// NextVoteOrdinal returns the next ordinal to use for RecordVote, so
// callers outside a single critical section can still append in order.
func (s *Store) NextVoteOrdinal(ctx context.Context, electionID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&VoteRow{}).Where("election_id = ?", electionID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("store: count votes: %w", err)
	}
	return count, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
