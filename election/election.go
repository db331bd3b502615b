package election

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/criptocracia/ec/crypto/blindrsa"
	"github.com/criptocracia/ec/crypto/nostrkey"
)

// Election is the in-memory aggregate owning one election's mutable sets
// and sequences (spec §3, glossary). It carries no lock of its own; spec §5
// requires callers to serialize access per election.
type Election struct {
	ID         string
	Name       string
	Candidates []Candidate
	StartTime  int64 // unix seconds, per spec §3
	EndTime    int64
	Status     Status

	RSAPubKeyDER string // base64(DER), copied into every election per spec §3
	rsaPub       *rsa.PublicKey
	rsaPriv      *rsa.PrivateKey // nil on voter-side reconstructions; set on the EC.

	AuthorizedVoters map[string]struct{} // hex-normalized voter keys, spec invariant 1
	UsedTokens       map[string]struct{} // hex h_n, spec invariant 2
	Votes            []uint8             // append-only candidate ids, spec invariant 3
}

// New constructs an Open election with the EC's RSA keypair copied in, per
// spec invariant 6 ("rsa_pub_key is immutable after creation").
func New(id, name string, candidates []Candidate, startTime, endTime int64, priv *rsa.PrivateKey) (*Election, error) {
	if len(name) < MinNameLength || len(name) > MaxNameLength {
		return nil, fmt.Errorf("election: %w: name must be %d..=%d chars", ErrInvalidLength, MinNameLength, MaxNameLength)
	}
	if startTime == 0 {
		return nil, fmt.Errorf("election: %w: start_time must not be zero", ErrInvalidLength)
	}
	if endTime <= startTime {
		return nil, fmt.Errorf("election: end_time must be after start_time")
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("election: at least one candidate is required")
	}
	seen := make(map[uint8]struct{}, len(candidates))
	for _, c := range candidates {
		if c.ID == 0 {
			return nil, ErrInvalidCandidate
		}
		if len(c.Name) < MinCandidateLength || len(c.Name) > MaxCandidateLength {
			return nil, fmt.Errorf("election: %w: candidate name must be %d..=%d chars", ErrInvalidLength, MinCandidateLength, MaxCandidateLength)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("election: duplicate candidate id %d", c.ID)
		}
		seen[c.ID] = struct{}{}
	}

	pub := &priv.PublicKey
	der, err := marshalPublicKeyDERBase64(pub)
	if err != nil {
		return nil, err
	}

	return &Election{
		ID:               id,
		Name:             name,
		Candidates:       append([]Candidate(nil), candidates...),
		StartTime:        startTime,
		EndTime:          endTime,
		Status:           Open,
		RSAPubKeyDER:     der,
		rsaPub:           pub,
		rsaPriv:          priv,
		AuthorizedVoters: make(map[string]struct{}),
		UsedTokens:       make(map[string]struct{}),
		Votes:            nil,
	}, nil
}

// Clone returns a copy safe to read after the caller's lock is released,
// for publishing/persisting outside the critical section per spec §5
// ("using a cloned snapshot of the election to publish and persist").
// Candidates and Votes are deep-copied since both can grow on the live
// Election after the clone is taken (AddCandidate, ReceiveVote) — skipping
// that copy is exactly the kind of clone-isn't-really-independent bug this
// method exists to avoid. AuthorizedVoters and UsedTokens are left aliased
// to the live maps; no current caller reads them off a clone, and doing so
// would need the same treatment.
func (e *Election) Clone() *Election {
	cp := *e
	cp.Candidates = append([]Candidate(nil), e.Candidates...)
	cp.Votes = append([]uint8(nil), e.Votes...)
	return &cp
}

// PublicKey returns the election's RSA public key, reconstructing it from
// RSAPubKeyDER if the in-memory pointer was never set (e.g. after C8
// recovery on a replica that never held the private key).
func (e *Election) PublicKey() (*rsa.PublicKey, error) {
	if e.rsaPub != nil {
		return e.rsaPub, nil
	}
	pub, err := publicKeyFromDERBase64(e.RSAPubKeyDER)
	if err != nil {
		return nil, err
	}
	e.rsaPub = pub
	return pub, nil
}

// AddCandidate appends a new ballot option, rejecting a candidate id
// already present in the election (spec.md:133).
func (e *Election) AddCandidate(c Candidate) error {
	if c.ID == 0 {
		return ErrInvalidCandidate
	}
	if len(c.Name) < MinCandidateLength || len(c.Name) > MaxCandidateLength {
		return fmt.Errorf("election: %w: candidate name must be %d..=%d chars", ErrInvalidLength, MinCandidateLength, MaxCandidateLength)
	}
	for _, existing := range e.Candidates {
		if existing.ID == c.ID {
			return fmt.Errorf("election: duplicate candidate id %d", c.ID)
		}
	}
	e.Candidates = append(e.Candidates, c)
	return nil
}

// RegisterVoter adds a voter's normalized public key to the authorized
// set. Permitted only while Open; idempotent (spec §4.1).
func (e *Election) RegisterVoter(pk string) error {
	if e.Status != Open {
		return ErrNotOpen
	}
	normalized, err := nostrkey.Normalize(pk)
	if err != nil {
		return fmt.Errorf("election: %w", err)
	}
	e.AuthorizedVoters[normalized] = struct{}{}
	return nil
}

// IssueToken burns the voter's single-use registration slot and returns a
// blind signature over the voter-supplied blinded message (spec §4.1).
//
// The removal from AuthorizedVoters happens before signing, so a signing
// failure still burns the registration slot — spec §5 calls this out as a
// deliberate trade-off against TOCTOU double-issuance, and this method
// preserves it: nothing is restored on error.
func (e *Election) IssueToken(voterPK string, blindedMessage *big.Int) (*big.Int, error) {
	if e.Status != Open && e.Status != InProgress {
		return nil, ErrTokenIssuanceClosed
	}
	normalized, err := nostrkey.Normalize(voterPK)
	if err != nil {
		return nil, fmt.Errorf("election: %w", err)
	}
	if _, ok := e.AuthorizedVoters[normalized]; !ok {
		return nil, ErrUnauthorized
	}
	delete(e.AuthorizedVoters, normalized)

	if e.rsaPriv == nil {
		return nil, fmt.Errorf("election: no signing key available")
	}
	return blindrsa.BlindSign(e.rsaPriv, blindedMessage)
}

// ReceiveVote admits a vote once its token has been verified by the caller
// (spec §4.1: "the signature on h_n is verified by the caller, not here").
func (e *Election) ReceiveVote(hN []byte, vote uint8) error {
	if e.Status != InProgress {
		return ErrNotInProgress
	}
	key := hex.EncodeToString(hN)
	if _, dup := e.UsedTokens[key]; dup {
		return ErrDuplicate
	}
	e.UsedTokens[key] = struct{}{}
	e.Votes = append(e.Votes, vote)
	return nil
}

// Tally is a pure function over Votes and Candidates. Unknown candidate ids
// are silently ignored (spec §4.1, §9 open question).
func (e *Election) Tally() map[Candidate]int {
	known := make(map[uint8]Candidate, len(e.Candidates))
	for _, c := range e.Candidates {
		known[c.ID] = c
	}
	counts := make(map[Candidate]int, len(e.Candidates))
	for _, v := range e.Votes {
		if c, ok := known[v]; ok {
			counts[c]++
		}
	}
	return counts
}

// TallyPairs renders Tally as ordered (candidate_id, count) pairs, the
// shape spec §6/§9 requires for the published tally event: an array, not a
// map, so ordering is stable and easy to verify.
func (e *Election) TallyPairs() [][2]int {
	counts := e.Tally()
	pairs := make([][2]int, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		pairs = append(pairs, [2]int{int(c.ID), counts[c]})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return pairs
}

// UpdateStatusBasedOnTime is the only legal source of Open/InProgress/
// Finished transitions besides admin Cancel (spec §4.1). It returns
// whether the status changed so the caller can persist and broadcast.
func (e *Election) UpdateStatusBasedOnTime(now int64) bool {
	if e.Status == Canceled {
		return false
	}
	if now >= e.EndTime && (e.Status == Open || e.Status == InProgress) {
		e.Status = Finished
		return true
	}
	if now >= e.StartTime && e.Status == Open {
		e.Status = InProgress
		return true
	}
	return false
}

// Cancel sets status to Canceled unless it already is (spec §4.6). It
// returns whether the status changed.
func (e *Election) Cancel() bool {
	if e.Status == Canceled {
		return false
	}
	e.Status = Canceled
	return true
}

func marshalPublicKeyDERBase64(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("election: marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

func publicKeyFromDERBase64(s string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("election: decode base64: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("election: parse DER: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("election: DER is not an RSA public key")
	}
	return rsaPub, nil
}
