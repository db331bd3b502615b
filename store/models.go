// Package store is the durable, transactional record of elections,
// candidates, the authorized voter set, the used-token set, and the vote
// sequence (spec §4.2, §6). It is built on gorm.io/gorm the way
// services/otc-gateway/models lays out its tables: plain structs with
// gorm tags, one table per concern, idempotent upserts via
// clause.OnConflict.
package store

import "time"

// ElectionRow is the `elections` table (spec §4.2).
type ElectionRow struct {
	ID        string `gorm:"primaryKey;size:16"`
	Name      string `gorm:"size:100;not null"`
	StartTime int64  `gorm:"not null"`
	EndTime   int64  `gorm:"not null"`
	Status    string `gorm:"size:16;not null;index"`
	RSAPubKey string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ElectionRow) TableName() string { return "elections" }

// CandidateRow is the `candidates` table. VoteCount is maintained
// incrementally as votes land, so a read of the table alone reflects the
// current tally without replaying the vote log.
type CandidateRow struct {
	ElectionID  string `gorm:"primaryKey;size:16"`
	CandidateID uint8  `gorm:"primaryKey"`
	Name        string `gorm:"size:50;not null"`
	VoteCount   int64  `gorm:"not null;default:0"`
}

func (CandidateRow) TableName() string { return "candidates" }

// UsedTokenRow is the `used_tokens` table: token_hash is the hex
// big-endian encoding of h_n (spec §4.2).
type UsedTokenRow struct {
	ElectionID string `gorm:"primaryKey;size:16"`
	TokenHash  string `gorm:"primaryKey;size:64"`
	CreatedAt  time.Time
}

func (UsedTokenRow) TableName() string { return "used_tokens" }

// VoterRow is the `election_voters` table: only the still-authorized set.
// Rows are deleted the moment a token is issued (spec §4.2).
type VoterRow struct {
	ElectionID string `gorm:"primaryKey;size:16"`
	VoterPK    string `gorm:"primaryKey;size:64"`
}

func (VoterRow) TableName() string { return "election_voters" }

// VoteRow is the durable `votes` audit table this spec adds beyond the
// original design (SPEC_FULL §5) so that C8 recovery can reconstruct the
// exact vote sequence instead of only per-candidate counts.
type VoteRow struct {
	ElectionID  string `gorm:"primaryKey;size:16"`
	Ordinal     int64  `gorm:"primaryKey"`
	CandidateID uint8  `gorm:"not null"`
	CreatedAt   time.Time
}

func (VoteRow) TableName() string { return "votes" }

// AllModels lists every table for AutoMigrate.
func AllModels() []any {
	return []any{
		&ElectionRow{},
		&CandidateRow{},
		&UsedTokenRow{},
		&VoterRow{},
		&VoteRow{},
	}
}
