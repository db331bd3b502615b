// Package nostrkey normalizes voter public keys between their bech32
// ("npub1...") wire form and the canonical hex form the EC stores and
// compares against.
//
// The codec mirrors the crypto.Address bech32 encode/decode pair
// (NewAddress/String/DecodeAddress) verbatim in shape, swapping the
// 20-byte chain address + "nhb"/"znhb" prefixes for a 32-byte x-only
// secp256k1 key and the "npub" human-readable part nostr uses.
package nostrkey

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// HRP is the bech32 human-readable part for nostr public keys.
const HRP = "npub"

// KeySize is the length in bytes of an x-only secp256k1 public key.
const KeySize = 32

// Normalize accepts either a bech32 "npub1..." key or a 64-character hex
// key and returns the canonical lowercase hex form used for storage and
// set membership (spec §3 invariant 7).
func Normalize(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", fmt.Errorf("nostrkey: empty key")
	}
	if strings.HasPrefix(strings.ToLower(trimmed), HRP+"1") {
		return decodeBech32(trimmed)
	}
	return decodeHex(trimmed)
}

func decodeHex(s string) (string, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("nostrkey: invalid hex key: %w", err)
	}
	if len(b) != KeySize {
		return "", fmt.Errorf("nostrkey: key must be %d bytes, got %d", KeySize, len(b))
	}
	return hex.EncodeToString(b), nil
}

func decodeBech32(s string) (string, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return "", fmt.Errorf("nostrkey: invalid bech32 key: %w", err)
	}
	if hrp != HRP {
		return "", fmt.Errorf("nostrkey: unexpected bech32 prefix %q", hrp)
	}
	conv, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("nostrkey: convert bits: %w", err)
	}
	if len(conv) != KeySize {
		return "", fmt.Errorf("nostrkey: key must be %d bytes, got %d", KeySize, len(conv))
	}
	return hex.EncodeToString(conv), nil
}

// Encode renders a canonical hex key as its bech32 "npub1..." form, the
// inverse of Normalize's bech32 branch.
func Encode(hexKey string) (string, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("nostrkey: invalid hex key: %w", err)
	}
	if len(b) != KeySize {
		return "", fmt.Errorf("nostrkey: key must be %d bytes, got %d", KeySize, len(b))
	}
	conv, err := bech32.ConvertBits(b, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("nostrkey: convert bits: %w", err)
	}
	return bech32.Encode(HRP, conv)
}
