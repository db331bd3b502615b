package election

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/criptocracia/ec/crypto/blindrsa"
	"github.com/criptocracia/ec/crypto/nostrkey"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv
}

func voterKey(b byte) string {
	return strings.Repeat(string(rune('a'+b%6)), 64)
}

func newTestElection(t *testing.T, start, end int64) *Election {
	t.Helper()
	priv := testKeyPair(t)
	e, err := New("ab12", "Board Election", []Candidate{
		{ID: 1, Name: "Alice"},
		{ID: 2, Name: "Bob"},
		{ID: 3, Name: "Charlie"},
	}, start, end, priv)
	require.NoError(t, err)
	return e
}

// castBallot runs the full blind-signature protocol for one voter and
// submits their vote, mirroring scenario 1 of spec §8.
func castBallot(t *testing.T, e *Election, voterPK string, candidateID uint8) {
	t.Helper()
	pub, err := e.PublicKey()
	require.NoError(t, err)

	nonce := []byte(voterPK + "-nonce")
	hN := sha256.Sum256(nonce)

	randomizer, err := blindrsa.NewRandomizer()
	require.NoError(t, err)
	prepared := blindrsa.PreparedMessage(pub, randomizer, hN[:])
	blinded, req, err := blindrsa.Blind(pub, prepared)
	require.NoError(t, err)

	blindSig, err := e.IssueToken(voterPK, blinded)
	require.NoError(t, err)

	token := req.Finalize(pub, blindSig)
	require.NoError(t, blindrsa.Verify(pub, randomizer, hN[:], token))

	require.NoError(t, e.ReceiveVote(hN[:], candidateID))
}

// Scenario 1: happy path, 3 voters, 3 candidates.
func TestHappyPathThreeVoters(t *testing.T) {
	e := newTestElection(t, 1000, 1000+3600)
	v1, v2, v3 := voterKey(0), voterKey(1), voterKey(2)
	for _, v := range []string{v1, v2, v3} {
		require.NoError(t, e.RegisterVoter(v))
	}
	require.True(t, e.UpdateStatusBasedOnTime(1500))
	require.Equal(t, InProgress, e.Status)

	castBallot(t, e, v1, 2)
	castBallot(t, e, v2, 1)
	castBallot(t, e, v3, 2)

	tally := e.Tally()
	require.Len(t, e.Votes, 3)
	require.Empty(t, e.AuthorizedVoters)
	require.Len(t, e.UsedTokens, 3)

	for c, n := range tally {
		switch c.ID {
		case 1:
			require.Equal(t, 1, n)
		case 2:
			require.Equal(t, 2, n)
		}
	}
}

// Scenario 2: unauthorized voter rejected.
func TestUnauthorizedVoterRejected(t *testing.T) {
	e := newTestElection(t, 1000, 1000+3600)
	v1 := voterKey(0)
	require.NoError(t, e.RegisterVoter(v1))

	pub, err := e.PublicKey()
	require.NoError(t, err)
	randomizer, err := blindrsa.NewRandomizer()
	require.NoError(t, err)
	prepared := blindrsa.PreparedMessage(pub, randomizer, []byte("h_n"))
	blinded, _, err := blindrsa.Blind(pub, prepared)
	require.NoError(t, err)

	unknown := voterKey(5)
	_, err = e.IssueToken(unknown, blinded)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Contains(t, e.AuthorizedVoters, v1)
}

// Scenario 3: double voting rejected.
func TestDoubleVotingRejected(t *testing.T) {
	e := newTestElection(t, 1000, 1000+3600)
	e.Status = InProgress
	hN := sha256.Sum256([]byte("single-nonce"))

	require.NoError(t, e.ReceiveVote(hN[:], 1))
	err := e.ReceiveVote(hN[:], 2)
	require.ErrorIs(t, err, ErrDuplicate)
	require.Equal(t, []uint8{1}, e.Votes)
}

// Scenario 4: status timing, including P4/P8 (never regresses, terminal
// once Finished given non-decreasing now).
func TestStatusTiming(t *testing.T) {
	e := newTestElection(t, 1000, 2000)
	require.False(t, e.UpdateStatusBasedOnTime(500))
	require.Equal(t, Open, e.Status)

	require.True(t, e.UpdateStatusBasedOnTime(1500))
	require.Equal(t, InProgress, e.Status)

	require.True(t, e.UpdateStatusBasedOnTime(2500))
	require.Equal(t, Finished, e.Status)

	require.False(t, e.UpdateStatusBasedOnTime(3000))
	require.Equal(t, Finished, e.Status)
}

// Scenario 5: cancellation is terminal.
func TestCancellationTerminal(t *testing.T) {
	e := newTestElection(t, 1000, 2000)
	require.True(t, e.Cancel())
	require.False(t, e.Cancel())
	require.Equal(t, Canceled, e.Status)

	require.False(t, e.UpdateStatusBasedOnTime(5000))
	require.Equal(t, Canceled, e.Status)
}

// Scenario 6: npub/hex normalization collapse to the same entry.
func TestNpubHexNormalization(t *testing.T) {
	e := newTestElection(t, 1000, 2000)
	hexKey := strings.Repeat("ab", 32)
	npub, err := nostrkey.Encode(hexKey)
	require.NoError(t, err)
	require.NoError(t, e.RegisterVoter(npub))
	require.NoError(t, e.RegisterVoter(hexKey))
	require.Len(t, e.AuthorizedVoters, 1)
}

func TestTallyIgnoresUnknownCandidates(t *testing.T) {
	e := newTestElection(t, 1000, 2000)
	e.Status = InProgress
	h1 := sha256.Sum256([]byte("a"))
	h2 := sha256.Sum256([]byte("b"))
	require.NoError(t, e.ReceiveVote(h1[:], 1))
	require.NoError(t, e.ReceiveVote(h2[:], 250)) // not a registered candidate

	pairs := e.TallyPairs()
	require.Equal(t, [][2]int{{1, 1}, {2, 0}, {3, 0}}, pairs)
}

func TestRegisterVoterOnlyWhileOpen(t *testing.T) {
	e := newTestElection(t, 1000, 2000)
	e.Status = InProgress
	err := e.RegisterVoter(voterKey(0))
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestNewRejectsBadCandidateID(t *testing.T) {
	priv := testKeyPair(t)
	_, err := New("x", "y", []Candidate{{ID: 0, Name: "zero"}}, 1, 2, priv)
	require.ErrorIs(t, err, ErrInvalidCandidate)
}

func TestNewRejectsBadTimes(t *testing.T) {
	priv := testKeyPair(t)
	_, err := New("x", "y", []Candidate{{ID: 1, Name: "a"}}, 100, 100, priv)
	require.Error(t, err)
}

func TestNewRejectsBadLengths(t *testing.T) {
	priv := testKeyPair(t)

	_, err := New("x", strings.Repeat("n", 101), []Candidate{{ID: 1, Name: "a"}}, 100, 200, priv)
	require.ErrorIs(t, err, ErrInvalidLength)

	_, err = New("x", "", []Candidate{{ID: 1, Name: "a"}}, 100, 200, priv)
	require.ErrorIs(t, err, ErrInvalidLength)

	_, err = New("x", "y", []Candidate{{ID: 1, Name: strings.Repeat("c", 51)}}, 100, 200, priv)
	require.ErrorIs(t, err, ErrInvalidLength)

	_, err = New("x", "y", []Candidate{{ID: 1, Name: "a"}}, 0, 200, priv)
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestAddCandidateAppendsAndRejectsDuplicate(t *testing.T) {
	e := newTestElection(t, 1000, 2000)
	require.NoError(t, e.AddCandidate(Candidate{ID: 4, Name: "Dana"}))
	require.Len(t, e.Candidates, 4)

	err := e.AddCandidate(Candidate{ID: 4, Name: "Eve"})
	require.Error(t, err)

	err = e.AddCandidate(Candidate{ID: 5, Name: ""})
	require.ErrorIs(t, err, ErrInvalidLength)

	err = e.AddCandidate(Candidate{ID: 0, Name: "Zero"})
	require.ErrorIs(t, err, ErrInvalidCandidate)
}
