package store

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return New(db)
}

func seedElection(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	err := s.UpsertElection(ctx, ElectionRow{
		ID:        "ab12",
		Name:      "Board Election",
		StartTime: 1000,
		EndTime:   2000,
		Status:    "open",
		RSAPubKey: "deadbeef",
	}, []CandidateRow{
		{CandidateID: 1, Name: "Alice"},
		{CandidateID: 2, Name: "Bob"},
	})
	require.NoError(t, err)
}

func TestUpsertElectionIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedElection(t, s)
	seedElection(t, s)

	row, candidates, err := s.GetElection(context.Background(), "ab12")
	require.NoError(t, err)
	require.Equal(t, "Board Election", row.Name)
	require.Len(t, candidates, 2)
}

func TestGetElectionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.GetElection(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStore(t)
	seedElection(t, s)
	ctx := context.Background()

	require.NoError(t, s.UpdateStatus(ctx, "ab12", "in-progress"))
	row, _, err := s.GetElection(ctx, "ab12")
	require.NoError(t, err)
	require.Equal(t, "in-progress", row.Status)

	require.ErrorIs(t, s.UpdateStatus(ctx, "nope", "finished"), ErrNotFound)
}

func TestVoterLifecycle(t *testing.T) {
	s := newTestStore(t)
	seedElection(t, s)
	ctx := context.Background()

	require.NoError(t, s.InsertVoter(ctx, "ab12", "voter-a"))
	require.NoError(t, s.InsertVoter(ctx, "ab12", "voter-a")) // idempotent
	require.NoError(t, s.InsertVoter(ctx, "ab12", "voter-b"))

	voters, err := s.ListVoters(ctx, "ab12", 0, 0)
	require.NoError(t, err)
	require.Len(t, voters, 2)

	require.NoError(t, s.RemoveVoter(ctx, "ab12", "voter-a"))
	voters, err = s.ListVoters(ctx, "ab12", 0, 0)
	require.NoError(t, err)
	require.Len(t, voters, 1)
	require.Equal(t, "voter-b", voters[0].VoterPK)
}

func TestRecordVoteIncrementsTallyAndRejectsReplay(t *testing.T) {
	s := newTestStore(t)
	seedElection(t, s)
	ctx := context.Background()

	require.NoError(t, s.RecordVote(ctx, "ab12", "hash-1", 0, 1))
	require.NoError(t, s.RecordVote(ctx, "ab12", "hash-2", 1, 1))

	err := s.RecordVote(ctx, "ab12", "hash-1", 2, 2)
	require.ErrorIs(t, err, ErrKeyAlreadyExists)

	_, candidates, err := s.GetElection(ctx, "ab12")
	require.NoError(t, err)
	for _, c := range candidates {
		if c.CandidateID == 1 {
			require.EqualValues(t, 2, c.VoteCount)
		}
		if c.CandidateID == 2 {
			require.EqualValues(t, 0, c.VoteCount)
		}
	}

	votes, err := s.ListVotesOrdered(ctx, "ab12")
	require.NoError(t, err)
	require.Equal(t, []uint8{1, 1}, votes)

	tokens, err := s.ListUsedTokens(ctx, "ab12")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"hash-1", "hash-2"}, tokens)
}

func TestListElectionsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		err := s.UpsertElection(ctx, ElectionRow{
			ID: id, Name: "E" + id, StartTime: 1, EndTime: 2, Status: "open", RSAPubKey: "k",
		}, nil)
		require.NoError(t, err)
	}
	rows, err := s.ListElections(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, DefaultPageSize, clampLimit(0))
	require.Equal(t, MaxPageSize, clampLimit(100000))
}

func TestInsertCandidateAppendsAndRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	seedElection(t, s)
	ctx := context.Background()

	require.NoError(t, s.InsertCandidate(ctx, CandidateRow{ElectionID: "ab12", CandidateID: 3, Name: "Carol"}))
	_, candidates, err := s.GetElection(ctx, "ab12")
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	err = s.InsertCandidate(ctx, CandidateRow{ElectionID: "ab12", CandidateID: 3, Name: "Dana"})
	require.ErrorIs(t, err, ErrKeyAlreadyExists)
}

func TestNextVoteOrdinal(t *testing.T) {
	s := newTestStore(t)
	seedElection(t, s)
	ctx := context.Background()

	n, err := s.NextVoteOrdinal(ctx, "ab12")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	require.NoError(t, s.RecordVote(ctx, "ab12", "hash-1", n, 1))
	n, err = s.NextVoteOrdinal(ctx, "ab12")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
