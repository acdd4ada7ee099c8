package deployment

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/postalsys/skydecoder/internal/decoder"
)

// Argon2id parameters for deriving per-decoder subscription keys. They
// match the host tooling's python argon2 defaults, which are stronger than
// this library's.
const (
	argonMemory  = 65536
	argonTime    = 3
	argonThreads = 4
)

// SubscriptionKey derives the symmetric key a decoder uses to decrypt its
// subscription updates. The decoder id is the password and the
// deployment's subscribe root key the salt, so every decoder gets a
// distinct key from one root.
func (s *Secrets) SubscriptionKey(decoderID uint32) ([32]byte, error) {
	root, err := s.subscribeRootKey()
	if err != nil {
		return [32]byte{}, err
	}

	var password [4]byte
	binary.LittleEndian.PutUint32(password[:], decoderID)

	var key [32]byte
	copy(key[:], argon2.IDKey(password[:], root[:], argonTime, argonMemory, argonThreads, 32))
	return key, nil
}

// DecoderParams derives the full set of provisioned parameters for one
// decoder: its subscription keys plus the emergency channel material
// burned in at build time.
func (s *Secrets) DecoderParams(decoderID, emergencyChannel uint32) (decoder.Params, error) {
	subKey, err := s.SubscriptionKey(decoderID)
	if err != nil {
		return decoder.Params{}, err
	}

	signKey, err := s.subscribeSigningKey()
	if err != nil {
		return decoder.Params{}, err
	}

	emRoot, emSign, err := s.channel(emergencyChannel)
	if err != nil {
		return decoder.Params{}, fmt.Errorf("emergency channel: %w", err)
	}

	return decoder.Params{
		DecoderID:             decoderID,
		SubscriptionKey:       subKey,
		SubscriptionPublicKey: publicKey(signKey),
		EmergencyChannelID:    emergencyChannel,
		EmergencyKey:          emRoot,
		EmergencyPublicKey:    publicKey(emSign),
	}, nil
}
