package sui

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Signature scheme flags.
const (
	flagEd25519 byte = 0x00
)

// intentTransactionData is the intent prefix for signing transaction data:
// scope TransactionData, version V0, app id Sui.
var intentTransactionData = []byte{0, 0, 0}

var ErrUnsupportedScheme = errors.New("unsupported signature scheme")

// Signer holds an Ed25519 key in Sui keystore form.
type Signer struct {
	key     ed25519.PrivateKey
	address string
}

// ParseKeystoreKey decodes a keystore entry: base64 of flag || 32-byte seed.
// A bare base64 32-byte seed is accepted as Ed25519.
func ParseKeystoreKey(encoded string) (*Signer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode keystore key: %w", err)
	}

	var seed []byte
	switch len(raw) {
	case ed25519.SeedSize + 1:
		if raw[0] != flagEd25519 {
			return nil, fmt.Errorf("%w: flag 0x%02x", ErrUnsupportedScheme, raw[0])
		}
		seed = raw[1:]
	case ed25519.SeedSize:
		seed = raw
	default:
		return nil, fmt.Errorf("keystore key has %d bytes, want %d or %d", len(raw), ed25519.SeedSize, ed25519.SeedSize+1)
	}

	return NewSigner(ed25519.NewKeyFromSeed(seed)), nil
}

func NewSigner(key ed25519.PrivateKey) *Signer {
	pub := key.Public().(ed25519.PublicKey)
	return &Signer{
		key:     key,
		address: deriveAddress(flagEd25519, pub),
	}
}

// Address is the 0x-prefixed Sui address of the key.
func (s *Signer) Address() string {
	return s.address
}

func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// SignTransaction signs base64 transaction bytes and returns the serialized
// signature flag || sig || pubkey, base64 encoded.
func (s *Signer) SignTransaction(txBytes string) (string, error) {
	tx, err := base64.StdEncoding.DecodeString(txBytes)
	if err != nil {
		return "", fmt.Errorf("decode tx bytes: %w", err)
	}

	digest := TransactionDigestToSign(tx)
	sig := ed25519.Sign(s.key, digest[:])

	pub := s.PublicKey()
	out := make([]byte, 0, 1+len(sig)+len(pub))
	out = append(out, flagEd25519)
	out = append(out, sig...)
	out = append(out, pub...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// TransactionDigestToSign is blake2b-256 over intent || tx.
func TransactionDigestToSign(tx []byte) [32]byte {
	msg := make([]byte, 0, len(intentTransactionData)+len(tx))
	msg = append(msg, intentTransactionData...)
	msg = append(msg, tx...)
	return blake2b.Sum256(msg)
}

func deriveAddress(flag byte, pub []byte) string {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, flag)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}
