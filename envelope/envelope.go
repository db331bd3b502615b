// Package envelope implements the wire codec for messages exchanged between
// voters and the Electoral Commission over nostr (spec §6): the inner
// {id, kind, payload} message, its two payload shapes (token request,
// vote), and the NIP-59 gift-wrap/seal/rumor encryption that carries it.
//
// It is built on github.com/nbd-wtf/go-nostr, the real ecosystem library for
// nostr primitives (event signing, NIP-44 encryption, NIP-59 wrapping),
// named in other_examples/manifests/comunifi-relay's go.mod. The
// gift-wrap/seal/rumor envelope shape here follows
// original_source/ec/src/main.rs's nostr_sdk::nip59::extract_rumor usage.
package envelope

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip59"
)

// Kind distinguishes the two inner message shapes spec §6 defines.
type Kind uint8

const (
	// KindTokenRequest carries a base64 big-endian blinded message from a
	// voter, or a base64 big-endian blind signature in the EC's reply.
	KindTokenRequest Kind = 1
	// KindVote carries an "h_n:token:msg_randomizer:vote" payload: three
	// base64 fields and a decimal candidate id joined by colons.
	KindVote Kind = 2
)

// Message is the plaintext envelope nested inside a gift-wrapped rumor
// (spec §6, mirroring original_source/ec/src/types.rs's Message struct).
type Message struct {
	ID         string  `json:"id"`
	Kind       Kind    `json:"kind"`
	Payload    string  `json:"payload"`
	ElectionID *string `json:"election_id,omitempty"`
}

var (
	// ErrUnsupportedKind is returned decoding a Message with an unknown kind.
	ErrUnsupportedKind = errors.New("envelope: unsupported message kind")
	// ErrMalformedPayload is returned when a payload does not match its
	// kind's expected shape.
	ErrMalformedPayload = errors.New("envelope: malformed payload")
	// ErrGiftWrapVerification is returned when the outer gift-wrap or inner
	// seal signature fails to verify, before any JSON is parsed.
	ErrGiftWrapVerification = errors.New("envelope: gift wrap signature verification failed")
)

// EncodeTokenRequest renders a blinded message as a token-request payload.
func EncodeTokenRequest(blinded *big.Int) string {
	return base64.StdEncoding.EncodeToString(blinded.Bytes())
}

// DecodeTokenRequest parses a token-request payload back into a blinded
// message integer.
func DecodeTokenRequest(payload string) (*big.Int, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return new(big.Int).SetBytes(raw), nil
}

// EncodeTokenReply renders a blind signature as the EC's token-request reply.
func EncodeTokenReply(blindSig *big.Int) string {
	return base64.StdEncoding.EncodeToString(blindSig.Bytes())
}

// DecodeTokenReply is the inverse of EncodeTokenReply.
func DecodeTokenReply(payload string) (*big.Int, error) {
	return DecodeTokenRequest(payload)
}

// VotePayload is the decoded form of a kind-2 vote message: the unblinded
// token hash h_n, the finalized token, the message randomizer used during
// blinding, and the chosen candidate id (spec §6).
type VotePayload struct {
	HN            []byte
	Token         *big.Int
	MsgRandomizer []byte
	Vote          uint8
}

// EncodeVote joins the four vote fields as
// "base64(h_n):base64(token):base64(msg_randomizer):vote", matching the
// colon-delimited shape original_source/ec/src/election.rs serializes
// before base64-wrapping in its blind-sign round trip.
func EncodeVote(p VotePayload) string {
	parts := []string{
		base64.StdEncoding.EncodeToString(p.HN),
		base64.StdEncoding.EncodeToString(p.Token.Bytes()),
		base64.StdEncoding.EncodeToString(p.MsgRandomizer),
		strconv.Itoa(int(p.Vote)),
	}
	return strings.Join(parts, ":")
}

// DecodeVote is the inverse of EncodeVote.
func DecodeVote(payload string) (VotePayload, error) {
	fields := strings.Split(payload, ":")
	if len(fields) != 4 {
		return VotePayload{}, fmt.Errorf("%w: expected 4 fields, got %d", ErrMalformedPayload, len(fields))
	}
	hN, err := base64.StdEncoding.DecodeString(fields[0])
	if err != nil {
		return VotePayload{}, fmt.Errorf("%w: h_n: %v", ErrMalformedPayload, err)
	}
	tokenBytes, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return VotePayload{}, fmt.Errorf("%w: token: %v", ErrMalformedPayload, err)
	}
	randomizer, err := base64.StdEncoding.DecodeString(fields[2])
	if err != nil {
		return VotePayload{}, fmt.Errorf("%w: msg_randomizer: %v", ErrMalformedPayload, err)
	}
	vote, err := strconv.Atoi(fields[3])
	if err != nil || vote < 0 || vote > 255 {
		return VotePayload{}, fmt.Errorf("%w: vote: %v", ErrMalformedPayload, err)
	}
	return VotePayload{
		HN:            hN,
		Token:         new(big.Int).SetBytes(tokenBytes),
		MsgRandomizer: randomizer,
		Vote:          uint8(vote),
	}, nil
}

// Marshal renders a Message as the JSON content of a NIP-59 rumor.
func Marshal(m Message) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal message: %w", err)
	}
	return string(b), nil
}

// Unmarshal parses a rumor's content back into a Message.
func Unmarshal(content string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return Message{}, fmt.Errorf("envelope: unmarshal message: %w", err)
	}
	if m.Kind != KindTokenRequest && m.Kind != KindVote {
		return Message{}, fmt.Errorf("%w: %d", ErrUnsupportedKind, m.Kind)
	}
	return m, nil
}

// Wrap gift-wraps a Message as a NIP-59 event addressed to recipientPubkey,
// signed (at the seal layer) by senderPrivkey, ready to publish to a relay.
func Wrap(senderPrivkey, recipientPubkey string, m Message) (*nostr.Event, error) {
	content, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	senderPubkey, err := nostr.GetPublicKey(senderPrivkey)
	if err != nil {
		return nil, fmt.Errorf("envelope: derive sender pubkey: %w", err)
	}
	// Kind 14 is the NIP-17 private-message rumor kind; the EC and voters
	// use it purely as an opaque transport for Message, not for NIP-17 chat
	// semantics. PubKey is the sender's real identity key — the gift wrap
	// itself is signed by a one-time key NIP-59 generates for transport
	// privacy, so this is the only place the real sender is recorded.
	const rumorKind = 14
	rumor := nostr.Event{
		PubKey:    senderPubkey,
		Kind:      rumorKind,
		Content:   content,
		CreatedAt: nostr.Now(),
	}
	wrapped, err := nip59.GiftWrap(rumor, senderPrivkey, recipientPubkey)
	if err != nil {
		return nil, fmt.Errorf("envelope: gift wrap: %w", err)
	}
	return &wrapped, nil
}

// Unwrap verifies a gift-wrap event's signature, unwraps the seal and rumor
// with recipientPrivkey, and decodes the rumor content as a Message. It
// returns the rumor's PubKey — the sender's real identity key — alongside
// the message, since the gift wrap's own PubKey is a one-time key NIP-59
// generates purely for transport and carries no voter identity.
// Signature verification happens before any JSON is parsed, so a forged
// envelope never reaches the decoder (spec §7).
func Unwrap(recipientPrivkey string, wrapped nostr.Event) (Message, string, error) {
	if ok, err := wrapped.CheckSignature(); err != nil || !ok {
		return Message{}, "", ErrGiftWrapVerification
	}
	rumor, err := nip59.GiftUnwrap(wrapped, recipientPrivkey)
	if err != nil {
		return Message{}, "", fmt.Errorf("%w: %v", ErrGiftWrapVerification, err)
	}
	msg, err := Unmarshal(rumor.Content)
	if err != nil {
		return Message{}, "", err
	}
	return msg, rumor.PubKey, nil
}

// Publish signs and sends a gift-wrapped envelope to every relay in pool.
func Publish(ctx context.Context, pool *nostr.SimplePool, relays []string, senderPrivkey, recipientPubkey string, m Message) error {
	wrapped, err := Wrap(senderPrivkey, recipientPubkey, m)
	if err != nil {
		return err
	}
	for _, url := range relays {
		relay, err := pool.EnsureRelay(url)
		if err != nil {
			return fmt.Errorf("envelope: connect to relay %s: %w", url, err)
		}
		if err := relay.Publish(ctx, *wrapped); err != nil {
			return fmt.Errorf("envelope: publish to relay %s: %w", url, err)
		}
	}
	return nil
}
