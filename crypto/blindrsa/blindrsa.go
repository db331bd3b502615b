// Package blindrsa implements the RSA blind-signature scheme used to issue
// anonymous voting tokens: the voter blinds h_n with a randomizer before
// sending it to the EC, the EC signs the blinded value without ever seeing
// h_n, and the voter unblinds the result into a token that verifies against
// h_n under the EC's public key.
//
// No RFC 9474 implementation is carried anywhere in the retrieval corpus, so
// the scheme is built directly on crypto/rsa and math/big, generalizing the
// textbook modpow blind signature (priv.D / pub.E exponentiation) used by
// the original ec.rs prototype with a SHA-256(randomizer || message) digest
// step, expanded by repeated SHA-256 to the modulus size (full-domain
// hashing) before blinding. The message is not RSA-PSS encoded, so tokens
// are not interoperable with RFC 9474 implementations.
package blindrsa

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
)

// RandomizerSize is the length in bytes of the message randomizer the wire
// vote payload must carry alongside the token and h_n.
const RandomizerSize = 32

var (
	// ErrInvalidBlindingFactor is returned when the supplied random factor
	// is not invertible modulo the public key's modulus.
	ErrInvalidBlindingFactor = errors.New("blindrsa: blinding factor not invertible mod n")
	// ErrSignatureInvalid is returned by Verify when the unblinded
	// signature does not correspond to the original message.
	ErrSignatureInvalid = errors.New("blindrsa: signature verification failed")
)

// NewRandomizer draws a fresh RandomizerSize-byte message randomizer.
func NewRandomizer() ([]byte, error) {
	buf := make([]byte, RandomizerSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("blindrsa: read randomizer: %w", err)
	}
	return buf, nil
}

// PreparedMessage is the full-domain hash of (randomizer || message),
// reduced into the RSA modulus as an integer ready to be blinded.
func PreparedMessage(pub *rsa.PublicKey, randomizer, message []byte) *big.Int {
	h := sha256.Sum256(append(append([]byte{}, randomizer...), message...))
	digest := expand(h[:], (pub.N.BitLen()+7)/8)
	return new(big.Int).Mod(new(big.Int).SetBytes(digest), pub.N)
}

// expand stretches a digest to size bytes by repeated SHA-256(counter ||
// digest), a simple MGF1-style expansion used so the prepared message fills
// the RSA modulus (full-domain hashing) rather than leaving high-order
// zero bytes that would bias the blind signature.
func expand(seed []byte, size int) []byte {
	out := make([]byte, 0, size)
	counter := byte(0)
	for len(out) < size {
		h := sha256.Sum256(append([]byte{counter}, seed...))
		out = append(out, h[:]...)
		counter++
	}
	return out[:size]
}

// Request is the voter-side state retained between Blind and Finalize.
type Request struct {
	blindFactor *big.Int
	blindFactorInverse *big.Int
	prepared    *big.Int
}

// Blind blinds the prepared message under the EC's public key, returning
// the blinded integer to send as a token request's payload and the Request
// state the voter must retain to finalize the signature later.
func Blind(pub *rsa.PublicKey, prepared *big.Int) (blinded *big.Int, req *Request, err error) {
	for {
		r, err := rand.Int(rand.Reader, pub.N)
		if err != nil {
			return nil, nil, fmt.Errorf("blindrsa: draw blinding factor: %w", err)
		}
		if r.Sign() == 0 {
			continue
		}
		rInv := new(big.Int).ModInverse(r, pub.N)
		if rInv == nil {
			continue
		}
		e := big.NewInt(int64(pub.E))
		rE := new(big.Int).Exp(r, e, pub.N)
		blinded := new(big.Int).Mod(new(big.Int).Mul(prepared, rE), pub.N)
		return blinded, &Request{blindFactor: r, blindFactorInverse: rInv, prepared: prepared}, nil
	}
}

// BlindSign is the EC-side operation: sign the blinded integer with the
// secret exponent d, never observing the unblinded message (spec §4.1,
// issue_token step 3).
func BlindSign(priv *rsa.PrivateKey, blinded *big.Int) (*big.Int, error) {
	if blinded.Sign() < 0 || blinded.Cmp(priv.N) >= 0 {
		return nil, errors.New("blindrsa: blinded value out of range")
	}
	return new(big.Int).Exp(blinded, priv.D, priv.N), nil
}

// Finalize unblinds the EC's blind signature into a token over the
// original prepared message.
func (r *Request) Finalize(pub *rsa.PublicKey, blindSig *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Mul(blindSig, r.blindFactorInverse), pub.N)
}

// Verify checks that token is a valid RSA signature over (randomizer,
// message) under pub — the caller-side verification spec §4.1 assigns to
// C5 before a vote is admitted.
func Verify(pub *rsa.PublicKey, randomizer, message []byte, token *big.Int) error {
	prepared := PreparedMessage(pub, randomizer, message)
	e := big.NewInt(int64(pub.E))
	recovered := new(big.Int).Exp(token, e, pub.N)
	if recovered.Cmp(prepared) != 0 {
		return ErrSignatureInvalid
	}
	return nil
}
