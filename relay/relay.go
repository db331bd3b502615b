// Package relay runs the event loop that ties the nostr transport to the
// election aggregate: subscribing for gift-wrapped envelopes, dispatching
// them to the right election under a single mutex (spec §5), and publishing
// replaceable election-state and tally events. It is grounded on the
// subscribe/notifications/dispatch shape in
// original_source/ec/src/main.rs (client.subscribe + notifications loop)
// translated into go-nostr's pool/relay API, and on the single
// dispatcher-goroutine style of services/otc-gateway/recon/reconciler.go.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/criptocracia/ec/crypto/blindrsa"
	"github.com/criptocracia/ec/election"
	"github.com/criptocracia/ec/envelope"
	"github.com/criptocracia/ec/metrics"
	"github.com/criptocracia/ec/store"
)

const (
	// KindElectionState is the replaceable event kind publishing candidate
	// lists and status (spec §6).
	KindElectionState = 35000
	// KindTally is the replaceable event kind publishing per-candidate
	// vote counts (spec §6).
	KindTally = 35001

	// electionStateExpiration and tallyExpiration are the `expiration` tag
	// durations spec.md:120-122 and :165-166 fix for each replaceable kind.
	electionStateExpiration = 15 * 24 * time.Hour
	tallyExpiration         = 5 * 24 * time.Hour
)

var (
	// ErrElectionNotFound is returned when an envelope names an
	// election_id the relay does not have loaded.
	ErrElectionNotFound = errors.New("relay: election not found")
	// ErrLegacyEnvelopeDisallowed is returned for an election_id-less
	// envelope when AllowLegacyEnvelopes is false.
	ErrLegacyEnvelopeDisallowed = errors.New("relay: envelope is missing election_id and legacy envelopes are disabled")
)

// Publisher is the subset of go-nostr's pool needed to publish and persist
// events, narrowed for testability.
type Publisher interface {
	Publish(ctx context.Context, url string, event nostr.Event) error
}

// Dispatcher owns the live election set and the nostr identities used to
// seal replies, serializing every mutation behind one mutex per spec §5's
// single-writer-per-election discipline (native/governance.Engine is
// lock-free in the same way, pushing serialization to its caller).
type Dispatcher struct {
	mu         sync.Mutex
	elections  map[string]*election.Election
	store      *store.Store
	publisher  Publisher
	relayURLs  []string
	ecPrivkey  string
	ecPubkey   string
	log        *slog.Logger

	// AllowLegacyEnvelopes permits dispatch of envelopes with no
	// election_id to the first loaded election found that is Open or
	// InProgress (map order, so which one is unspecified when several
	// qualify); if that election rejects the envelope, no other election is
	// tried. Disabled by default; new deployments should always set
	// election_id (spec §9).
	AllowLegacyEnvelopes bool
}

// New constructs a Dispatcher over an already-recovered election set
// (normally the result of boot.Recover).
func New(st *store.Store, publisher Publisher, relayURLs []string, ecPrivkey, ecPubkey string, elections map[string]*election.Election, log *slog.Logger) *Dispatcher {
	if elections == nil {
		elections = make(map[string]*election.Election)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		elections: elections,
		store:     st,
		publisher: publisher,
		relayURLs: relayURLs,
		ecPrivkey: ecPrivkey,
		ecPubkey:  ecPubkey,
		log:       log,
	}
}

// AddElection registers a newly created or recovered election so future
// envelopes can address it.
func (d *Dispatcher) AddElection(e *election.Election) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elections[e.ID] = e
}

// Snapshot returns the elections currently loaded, for the clock package to
// iterate their (immutable) ids without taking the dispatcher's lock
// repeatedly. Callers must not mutate the returned pointers; use
// MutateElection for that.
func (d *Dispatcher) Snapshot() []*election.Election {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*election.Election, 0, len(d.elections))
	for _, e := range d.elections {
		out = append(out, e)
	}
	return out
}

// MutateElection runs fn against one loaded election under the dispatcher's
// own lock and returns a cloned snapshot taken before releasing it, so a
// caller (admin.Facade, driven from HTTP handler goroutines) can persist and
// publish the result outside the critical section without ever touching the
// live *election.Election directly — the same single-writer discipline
// HandleGiftWrap and AdvanceStatus already follow (spec §5).
func (d *Dispatcher) MutateElection(electionID string, fn func(*election.Election) error) (*election.Election, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.elections[electionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrElectionNotFound, electionID)
	}
	if err := fn(e); err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

// HandleGiftWrap verifies and unwraps a gift-wrapped event, dispatches the
// inner message to the named election, and returns the reply envelope the
// caller should seal and publish back to the sender, along with the
// sender's real pubkey to address that reply to (the gift wrap's own
// PubKey is a one-time transport key, not the sender's identity — see
// envelope.Unwrap). The reply is nil when there is nothing to send back:
// for a vote, and for any envelope that was rejected (the error says why).
//
// d.mu is held only across the in-memory mutation; handleTokenRequest and
// handleVote each release it before doing any store write or relay publish,
// the same discipline MutateElection and AdvanceStatus use, so one slow
// relay round trip never stalls every other election's dispatch.
func (d *Dispatcher) HandleGiftWrap(ctx context.Context, wrapped nostr.Event) (*envelope.Message, string, error) {
	msg, senderPubkey, err := envelope.Unwrap(d.ecPrivkey, wrapped)
	if err != nil {
		d.log.Warn("gift wrap rejected", "error", err)
		return nil, "", err
	}

	d.mu.Lock()
	e, err := d.resolveElection(msg.ElectionID)
	if err != nil {
		d.mu.Unlock()
		d.log.Warn("envelope dispatch failed", "error", err, "msg_id", msg.ID)
		return nil, "", err
	}

	switch msg.Kind {
	case envelope.KindTokenRequest:
		reply, err := d.handleTokenRequest(ctx, e, senderPubkey, msg)
		return reply, senderPubkey, err
	case envelope.KindVote:
		return nil, "", d.handleVote(ctx, e, msg)
	default:
		d.mu.Unlock()
		return nil, "", fmt.Errorf("relay: %w: %d", envelope.ErrUnsupportedKind, msg.Kind)
	}
}

func (d *Dispatcher) resolveElection(electionID *string) (*election.Election, error) {
	if electionID != nil {
		e, ok := d.elections[*electionID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrElectionNotFound, *electionID)
		}
		return e, nil
	}
	if !d.AllowLegacyEnvelopes {
		return nil, ErrLegacyEnvelopeDisallowed
	}
	for _, e := range d.elections {
		if e.Status == election.Open || e.Status == election.InProgress {
			return e, nil
		}
	}
	return nil, ErrElectionNotFound
}

// handleTokenRequest is called with d.mu held; it unlocks as soon as the
// in-memory token issuance is done and everything it still needs has been
// copied out, before the voter-removal store write.
func (d *Dispatcher) handleTokenRequest(ctx context.Context, e *election.Election, voterPK string, msg envelope.Message) (*envelope.Message, error) {
	blinded, err := envelope.DecodeTokenRequest(msg.Payload)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	blindSig, err := e.IssueToken(voterPK, blinded)
	if err != nil {
		d.mu.Unlock()
		metrics.EC().ObserveTokenIssuanceFailed(e.ID, errorReason(err))
		return nil, fmt.Errorf("relay: issue token: %w", err)
	}
	electionID := e.ID
	remaining := len(e.AuthorizedVoters)
	d.mu.Unlock()

	metrics.EC().ObserveTokenIssued(electionID)
	metrics.EC().SetAuthorizedVoters(electionID, float64(remaining))
	if err := d.store.RemoveVoter(ctx, electionID, voterPK); err != nil {
		d.log.Error("persist voter removal failed", "error", err, "election_id", electionID)
	}
	reply := envelope.Message{
		ID:         msg.ID,
		Kind:       envelope.KindTokenRequest,
		Payload:    envelope.EncodeTokenReply(blindSig),
		ElectionID: &electionID,
	}
	return &reply, nil
}

// handleVote is called with d.mu held; it unlocks once the vote is admitted
// in memory, then persists and publishes a Clone()d snapshot so neither the
// store write nor the relay round trip blocks every other election's
// dispatch the way holding d.mu across them would.
func (d *Dispatcher) handleVote(ctx context.Context, e *election.Election, msg envelope.Message) error {
	vote, err := envelope.DecodeVote(msg.Payload)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	pub, err := e.PublicKey()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if err := blindrsa.Verify(pub, vote.MsgRandomizer, vote.HN, vote.Token); err != nil {
		d.mu.Unlock()
		metrics.EC().ObserveVoteRejected(e.ID, "invalid_token")
		return fmt.Errorf("relay: %w", err)
	}
	if err := e.ReceiveVote(vote.HN, vote.Vote); err != nil {
		d.mu.Unlock()
		metrics.EC().ObserveVoteRejected(e.ID, errorReason(err))
		return fmt.Errorf("relay: receive vote: %w", err)
	}
	snapshot := e.Clone()
	d.mu.Unlock()

	metrics.EC().ObserveVoteReceived(snapshot.ID)
	ordinal, err := d.store.NextVoteOrdinal(ctx, snapshot.ID)
	if err != nil {
		return err
	}
	tokenHash := fmt.Sprintf("%x", vote.HN)
	// Unlike the voter-removal persist in handleTokenRequest, a failed vote
	// persist is not merely logged: boot.Recover rebuilds UsedTokens and
	// Votes from this table, so a silently dropped write would let the same
	// token vote again after a restart.
	if err := d.store.RecordVote(ctx, snapshot.ID, tokenHash, ordinal, vote.Vote); err != nil {
		return fmt.Errorf("relay: persist vote: %w", err)
	}
	return d.publishTally(ctx, snapshot)
}

// AdvanceStatus advances one election's status under the dispatcher's own
// lock, so the status clock never mutates an Election concurrently with
// the event loop (spec §5). The lock is released before the durable write
// and the publish, both of which act on a cloned snapshot taken while
// still locked.
func (d *Dispatcher) AdvanceStatus(ctx context.Context, electionID string, now int64) error {
	d.mu.Lock()
	e, ok := d.elections[electionID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrElectionNotFound, electionID)
	}
	changed := e.UpdateStatusBasedOnTime(now)
	snapshot := e.Clone()
	d.mu.Unlock()

	if !changed {
		return nil
	}
	metrics.EC().ObserveStatusTransition(snapshot.ID, snapshot.Status.String())
	if err := d.store.UpdateStatus(ctx, snapshot.ID, snapshot.Status.String()); err != nil {
		return fmt.Errorf("relay: persist status: %w", err)
	}
	return d.PublishState(ctx, snapshot)
}

// PublishState publishes the kind-35000 election-state event: candidates
// and status, addressable by the election id (spec §6).
func (d *Dispatcher) PublishState(ctx context.Context, e *election.Election) error {
	body, err := json.Marshal(struct {
		ID         string              `json:"id"`
		Name       string              `json:"name"`
		Candidates []election.Candidate `json:"candidates"`
		StartTime  int64               `json:"start_time"`
		EndTime    int64               `json:"end_time"`
		Status     string              `json:"status"`
		RSAPubKey  string              `json:"rsa_pub_key"`
	}{
		ID:         e.ID,
		Name:       e.Name,
		Candidates: e.Candidates,
		StartTime:  e.StartTime,
		EndTime:    e.EndTime,
		Status:     e.Status.String(),
		RSAPubKey:  e.RSAPubKeyDER,
	})
	if err != nil {
		return fmt.Errorf("relay: marshal election state: %w", err)
	}
	return d.publishReplaceable(ctx, KindElectionState, e.ID, string(body), electionStateExpiration)
}

// publishTally's body is the bare JSON array spec.md:122 and :166 require
// (not an object wrapping it), so a subscriber can decode the content
// directly as [][2]int.
func (d *Dispatcher) publishTally(ctx context.Context, e *election.Election) error {
	body, err := json.Marshal(e.TallyPairs())
	if err != nil {
		return fmt.Errorf("relay: marshal tally: %w", err)
	}
	return d.publishReplaceable(ctx, KindTally, e.ID, string(body), tallyExpiration)
}

func (d *Dispatcher) publishReplaceable(ctx context.Context, kind int, electionID, content string, expiresIn time.Duration) error {
	now := nostr.Now()
	expiration := strconv.FormatInt(int64(now)+int64(expiresIn.Seconds()), 10)
	ev := nostr.Event{
		Kind:      kind,
		Content:   content,
		CreatedAt: now,
		Tags: nostr.Tags{
			{"d", electionID},
			{"expiration", expiration},
		},
	}
	if err := ev.Sign(d.ecPrivkey); err != nil {
		return fmt.Errorf("relay: sign event: %w", err)
	}
	for _, url := range d.relayURLs {
		if err := d.publisher.Publish(ctx, url, ev); err != nil {
			metrics.EC().ObserveRelayPublishFailed(url)
			d.log.Error("publish failed", "error", err, "relay", url, "kind", kind)
		}
	}
	return nil
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, election.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, election.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, election.ErrNotInProgress):
		return "not_in_progress"
	case errors.Is(err, election.ErrTokenIssuanceClosed):
		return "token_issuance_closed"
	default:
		return "unknown"
	}
}
