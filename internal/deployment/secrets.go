// Package deployment implements the authority side of the system: the
// deployment-wide secrets, per-decoder provisioning, subscription minting
// and frame encoding. The decoder never links against a signing key; this
// package is what the host tooling and the tests use to produce the
// payloads the decoder consumes.
package deployment

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ChannelSecrets is the root material for one broadcast channel: the key
// at the root of its GGM tree and the Ed25519 seed that signs its frames.
// Keys are hex-encoded in the secrets file.
type ChannelSecrets struct {
	RootKey    string `yaml:"root_key"`
	PrivateKey string `yaml:"private_key"`
}

// Secrets is the deployment-wide secrets file. It exists once per
// deployment; every decoder's keys derive from it.
type Secrets struct {
	SubscribeRootKey    string                    `yaml:"subscribe_root_key"`
	SubscribePrivateKey string                    `yaml:"subscribe_private_key"`
	Channels            map[uint32]ChannelSecrets `yaml:"channels"`
}

// Generate creates fresh deployment secrets covering the given channel
// ids. Channel ids are external identifiers; include the emergency channel
// so its keys exist to be burned into decoders.
func Generate(channelIDs []uint32) (*Secrets, error) {
	s := &Secrets{
		Channels: make(map[uint32]ChannelSecrets, len(channelIDs)),
	}

	var err error
	if s.SubscribeRootKey, err = randomHexKey(); err != nil {
		return nil, err
	}
	if s.SubscribePrivateKey, err = randomHexKey(); err != nil {
		return nil, err
	}

	for _, id := range channelIDs {
		var ch ChannelSecrets
		if ch.RootKey, err = randomHexKey(); err != nil {
			return nil, err
		}
		if ch.PrivateKey, err = randomHexKey(); err != nil {
			return nil, err
		}
		s.Channels[id] = ch
	}

	return s, nil
}

// randomHexKey draws 32 random bytes and hex-encodes them.
func randomHexKey() (string, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(key[:]), nil
}

// Load reads a secrets file.
func Load(path string) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	s := &Secrets{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse secrets: %w", err)
	}
	return s, nil
}

// Save writes a secrets file with owner-only permissions.
func (s *Secrets) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// key32 decodes one hex-encoded 32-byte key.
func key32(name, value string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(value)
	if err != nil {
		return key, fmt.Errorf("%s: %w", name, err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("%s: got %d bytes, want 32", name, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// subscribeRootKey returns the decoded subscribe root key.
func (s *Secrets) subscribeRootKey() ([32]byte, error) {
	return key32("subscribe_root_key", s.SubscribeRootKey)
}

// subscribeSigningKey returns the Ed25519 signing key for subscriptions.
func (s *Secrets) subscribeSigningKey() (ed25519.PrivateKey, error) {
	seed, err := key32("subscribe_private_key", s.SubscribePrivateKey)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed[:]), nil
}

// channel returns the decoded root key and signing key for one channel.
func (s *Secrets) channel(id uint32) ([32]byte, ed25519.PrivateKey, error) {
	ch, ok := s.Channels[id]
	if !ok {
		return [32]byte{}, nil, fmt.Errorf("no secrets for channel %d", id)
	}
	root, err := key32("root_key", ch.RootKey)
	if err != nil {
		return [32]byte{}, nil, fmt.Errorf("channel %d: %w", id, err)
	}
	seed, err := key32("private_key", ch.PrivateKey)
	if err != nil {
		return [32]byte{}, nil, fmt.Errorf("channel %d: %w", id, err)
	}
	return root, ed25519.NewKeyFromSeed(seed[:]), nil
}

// publicKey extracts the 32-byte verifying key of a signing key.
func publicKey(priv ed25519.PrivateKey) [32]byte {
	var pub [32]byte
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return pub
}
