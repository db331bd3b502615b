// Package crypto holds the EC's long-term key material: the RSA keypair
// used for blind-signature token issuance and the helpers used to load or
// mint it on disk.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MinKeyBits is the minimum RSA modulus size accepted for the EC's
// blind-signature key, per spec: "RSA, >= 2048 bits".
const MinKeyBits = 2048

// KeyPair bundles the EC's RSA secret and public key.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// Generate creates a fresh 2048-bit RSA keypair.
func Generate() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, MinKeyBits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate rsa key: %w", err)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// LoadOrCreate loads the EC keypair from dir/ec_private.pem, deriving the
// public key from it (dir/ec_public.pem is written, never read), or mints a
// new pair and writes both files if the private key file is absent. When
// EC_PRIVATE_KEY is set it overrides the filesystem entirely and nothing is
// written to disk; EC_PUBLIC_KEY, if also set, then supplies the public
// key. EC_PUBLIC_KEY without EC_PRIVATE_KEY is ignored.
func LoadOrCreate(dir string) (*KeyPair, error) {
	if privPEM := os.Getenv("EC_PRIVATE_KEY"); privPEM != "" {
		priv, err := ParsePrivatePEM([]byte(privPEM))
		if err != nil {
			return nil, fmt.Errorf("crypto: EC_PRIVATE_KEY: %w", err)
		}
		kp := &KeyPair{Private: priv, Public: &priv.PublicKey}
		if pubPEM := os.Getenv("EC_PUBLIC_KEY"); pubPEM != "" {
			pub, err := ParsePublicPEM([]byte(pubPEM))
			if err != nil {
				return nil, fmt.Errorf("crypto: EC_PUBLIC_KEY: %w", err)
			}
			kp.Public = pub
		}
		return kp, nil
	}

	privPath := filepath.Join(dir, "ec_private.pem")
	pubPath := filepath.Join(dir, "ec_public.pem")

	if privBytes, err := os.ReadFile(privPath); err == nil {
		priv, err := ParsePrivatePEM(privBytes)
		if err != nil {
			return nil, fmt.Errorf("crypto: parse %s: %w", privPath, err)
		}
		return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("crypto: read %s: %w", privPath, err)
	}

	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("crypto: mkdir %s: %w", dir, err)
	}
	if err := os.WriteFile(privPath, kp.PrivatePEM(), 0o600); err != nil {
		return nil, fmt.Errorf("crypto: write %s: %w", privPath, err)
	}
	if err := os.WriteFile(pubPath, kp.PublicPEM(), 0o644); err != nil {
		return nil, fmt.Errorf("crypto: write %s: %w", pubPath, err)
	}
	return kp, nil
}

// PrivatePEM encodes the RSA secret key as a PKCS#1 PEM block.
func (k *KeyPair) PrivatePEM() []byte {
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(k.Private),
	}
	return pem.EncodeToMemory(block)
}

// PublicPEM encodes the RSA public key as a PKIX PEM block.
func (k *KeyPair) PublicPEM() []byte {
	der, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		// Public keys derived from a valid rsa.PrivateKey always marshal.
		panic(fmt.Sprintf("crypto: marshal public key: %v", err))
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return pem.EncodeToMemory(block)
}

// PublicKeyDERBase64 returns the DER-then-base64 encoding of the public key
// the way it is copied into every election's rsa_pub_key field (spec §3, §6).
func (k *KeyPair) PublicKeyDERBase64() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ParsePrivatePEM decodes a PKCS#1 RSA private key PEM block.
func ParsePrivatePEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("crypto: no PEM block found")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// ParsePublicPEM decodes a PKIX RSA public key PEM block.
func ParsePublicPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("crypto: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("crypto: PEM block is not an RSA public key")
	}
	return rsaPub, nil
}

// PublicKeyFromDERBase64 decodes the base64(DER) form stored on Election.RSAPubKey.
func PublicKeyFromDERBase64(s string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode base64: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse DER: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("crypto: DER is not an RSA public key")
	}
	return rsaPub, nil
}
