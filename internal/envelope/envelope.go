// Package envelope implements the payload container shared by broadcast
// frames and subscription updates. A payload carries a detached Ed25519
// signature, an XChaCha20-Poly1305 nonce and tag, the ciphertext, and a
// trailing run of authenticated-but-unencrypted associated data:
//
//	Signature       [64 bytes]
//	Nonce           [24 bytes]
//	Tag             [16 bytes]
//	Ciphertext      [variable]
//	Associated data [adSize bytes]
//
// The signature covers everything after itself, nonce and tag included.
// Signing only the ciphertext would let an attacker who learned a symmetric
// key swap nonces between otherwise valid payloads and decrypt to a
// different plaintext.
package envelope

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// SignatureSize is the length of the detached Ed25519 signature.
	SignatureSize = ed25519.SignatureSize

	// NonceSize is the length of the XChaCha20-Poly1305 nonce.
	NonceSize = chacha20poly1305.NonceSizeX

	// TagSize is the length of the detached Poly1305 tag.
	TagSize = chacha20poly1305.Overhead

	// HeaderSize is the length of the fixed prefix before the ciphertext.
	HeaderSize = SignatureSize + NonceSize + TagSize
)

// ErrInvalidPayload is returned whenever a payload cannot be authenticated:
// it is too short, its signature does not verify, or the AEAD rejects it.
// The cause is deliberately not distinguished.
var ErrInvalidPayload = errors.New("invalid encoder payload")

// AssociatedData returns the trailing adSize bytes of the payload. The view
// is unauthenticated until Open succeeds on the same payload; callers may
// peek at it to select keys but must not trust it beyond that.
func AssociatedData(payload []byte, adSize int) ([]byte, error) {
	if len(payload) < HeaderSize+adSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPayload, len(payload))
	}
	return payload[len(payload)-adSize:], nil
}

// Open verifies and decrypts a payload. The ciphertext region of payload is
// overwritten with the plaintext and a sub-slice of payload framing it is
// returned; the payload buffer is consumed either way.
func Open(payload []byte, adSize int, symKey *[32]byte, pub ed25519.PublicKey) ([]byte, error) {
	if len(payload) < HeaderSize+adSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPayload, len(payload))
	}

	signature := payload[:SignatureSize]
	nonce := payload[SignatureSize : SignatureSize+NonceSize]
	tag := payload[SignatureSize+NonceSize : HeaderSize]

	// Signature first: it covers nonce, tag, ciphertext and associated data.
	if !ed25519.Verify(pub, payload[SignatureSize:], signature) {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidPayload)
	}

	ciphertext := payload[HeaderSize : len(payload)-adSize]
	ad := payload[len(payload)-adSize:]

	aead, err := chacha20poly1305.NewX(symKey[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	// The AEAD wants ciphertext and tag contiguous; decrypt back into the
	// ciphertext region so the plaintext stays inside the caller's buffer.
	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(ciphertext[:0], nonce, sealed, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: aead rejected", ErrInvalidPayload)
	}

	return plaintext, nil
}

// Seal builds a payload for the given plaintext and associated data. This is
// the authority-side inverse of Open, used when minting subscriptions and
// encoding frames. The nonce is drawn from rng.
func Seal(plaintext, ad []byte, symKey *[32]byte, priv ed25519.PrivateKey, rng io.Reader) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(symKey[:])
	if err != nil {
		return nil, err
	}

	payload := make([]byte, HeaderSize+len(plaintext)+len(ad))
	nonce := payload[SignatureSize : SignatureSize+NonceSize]
	if _, err := io.ReadFull(rng, nonce); err != nil {
		return nil, fmt.Errorf("draw nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, ad)
	ciphertext := sealed[:len(plaintext)]
	tag := sealed[len(plaintext):]

	copy(payload[SignatureSize+NonceSize:HeaderSize], tag)
	copy(payload[HeaderSize:], ciphertext)
	copy(payload[HeaderSize+len(ciphertext):], ad)

	signature := ed25519.Sign(priv, payload[SignatureSize:])
	copy(payload[:SignatureSize], signature)

	return payload, nil
}
