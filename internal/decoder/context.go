// Package decoder wires the envelope codec, the key tree and the
// subscription store into the three host-visible operations: decode a
// frame, install a subscription, list subscriptions. It also owns the
// serve loop that speaks the wire protocol.
package decoder

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"log/slog"

	"filippo.io/edwards25519"

	"github.com/postalsys/skydecoder/internal/envelope"
	"github.com/postalsys/skydecoder/internal/keytree"
	"github.com/postalsys/skydecoder/internal/logging"
	"github.com/postalsys/skydecoder/internal/metrics"
	"github.com/postalsys/skydecoder/internal/subscription"
)

// Params is the per-device key material and identity, fixed at
// provisioning time.
type Params struct {
	// DecoderID is this device's identity; subscription updates are
	// bound to it.
	DecoderID uint32

	// SubscriptionKey decrypts subscription updates; it is derived
	// per-decoder by the deployment from the subscribe root key.
	SubscriptionKey [32]byte

	// SubscriptionPublicKey verifies subscription update signatures.
	SubscriptionPublicKey [32]byte

	// EmergencyChannelID is the channel that is always decodable.
	EmergencyChannelID uint32

	// EmergencyKey is the emergency channel's symmetric key. Frames on
	// the emergency channel are encrypted with it directly, with no
	// key-tree derivation.
	EmergencyKey [32]byte

	// EmergencyPublicKey verifies emergency-channel frame signatures.
	EmergencyPublicKey [32]byte
}

// Context is the decoder's full runtime state: provisioned keys, the
// subscription store, and the monotonic decode cursor. One context serves
// one host link; nothing in it is shared.
type Context struct {
	params Params

	subscriptionPub ed25519.PublicKey
	emergencyPub    ed25519.PublicKey

	store   *subscription.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	lastTimestamp    uint64
	hasLastTimestamp bool
}

// NewContext validates the provisioned verifying keys and builds a
// context. The decode cursor starts absent; it does not survive restarts.
func NewContext(params Params, store *subscription.Store, logger *slog.Logger, m *metrics.Metrics) (*Context, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	subPub, err := parseVerifyingKey(params.SubscriptionPublicKey)
	if err != nil {
		return nil, fmt.Errorf("subscription public key: %w", err)
	}
	emPub, err := parseVerifyingKey(params.EmergencyPublicKey)
	if err != nil {
		return nil, fmt.Errorf("emergency public key: %w", err)
	}

	return &Context{
		params:          params,
		subscriptionPub: subPub,
		emergencyPub:    emPub,
		store:           store,
		logger:          logger.With(logging.KeyComponent, "decoder"),
		metrics:         m,
	}, nil
}

// parseVerifyingKey checks that key bytes decompress to a curve point
// before use.
func parseVerifyingKey(key [32]byte) (ed25519.PublicKey, error) {
	if _, err := new(edwards25519.Point).SetBytes(key[:]); err != nil {
		return nil, err
	}
	return ed25519.PublicKey(append([]byte(nil), key[:]...)), nil
}

// LastDecodedTimestamp returns the decode cursor, if set.
func (c *Context) LastDecodedTimestamp() (uint64, bool) {
	return c.lastTimestamp, c.hasLastTimestamp
}

// Decode validates and decrypts one broadcast frame, returning the frame
// plaintext. The payload buffer is consumed.
func (c *Context) Decode(payload []byte) ([]byte, error) {
	frameInfo, err := envelope.ParseFrameAD(payload)
	if err != nil {
		return nil, err
	}

	// The monotonicity check runs before any key work so rejected frames
	// never observe key-derivation timing.
	if c.hasLastTimestamp && frameInfo.Timestamp <= c.lastTimestamp {
		return nil, ErrNonMonotonicTimestamp
	}

	symKey, pub, err := c.keysForChannel(uint32(frameInfo.ChannelID), frameInfo.Timestamp)
	if err != nil {
		return nil, err
	}

	plaintext, err := envelope.Open(payload, envelope.FrameADSize, &symKey, pub)
	if err != nil {
		return nil, err
	}

	frame, err := envelope.ParseFrameData(plaintext)
	if err != nil {
		return nil, err
	}

	// Only a fully decoded frame advances the cursor.
	c.lastTimestamp = frameInfo.Timestamp
	c.hasLastTimestamp = true

	if c.metrics != nil {
		c.metrics.FramesDecoded.Inc()
	}
	c.logger.Debug("frame decoded",
		logging.KeyChannelID, frameInfo.ChannelID,
		logging.KeyTimestamp, frameInfo.Timestamp)

	return frame.FrameData[:frame.FrameLen], nil
}

// keysForChannel resolves the symmetric and verifying keys for a frame.
// The emergency channel uses the provisioned keys directly; every other
// channel needs a stored subscription covering the timestamp.
func (c *Context) keysForChannel(channelID uint32, timestamp uint64) ([32]byte, ed25519.PublicKey, error) {
	if channelID == c.params.EmergencyChannelID {
		return c.params.EmergencyKey, c.emergencyPub, nil
	}

	sub, cache, ok := c.store.Get(channelID)
	if !ok {
		return [32]byte{}, nil, fmt.Errorf("%w: no subscription for channel %d", ErrInvalidSubscription, channelID)
	}

	// Deriving the key would fail anyway outside the interval; checking
	// here gives the host a distinct error.
	if timestamp < sub.StartTime || timestamp > sub.EndTime() {
		c.logger.Debug("frame outside subscription interval",
			logging.KeyChannelID, channelID,
			logging.KeyTimestamp, timestamp,
			logging.KeyStart, sub.StartTime,
			logging.KeyEnd, sub.EndTime())
		return [32]byte{}, nil, ErrInvalidTimestamp
	}

	symKey, err := keytree.Derive(sub.ActiveSubtrees(), &cache.Path, timestamp)
	if err != nil {
		return [32]byte{}, nil, err
	}

	return symKey, cache.PublicKey, nil
}

// Subscribe validates and installs one subscription update. The payload
// buffer is consumed.
func (c *Context) Subscribe(payload []byte) error {
	ad, err := envelope.ParseSubscriptionAD(payload)
	if err != nil {
		return err
	}
	if ad.DecoderID != c.params.DecoderID {
		return fmt.Errorf("%w: bound to decoder %d", ErrInvalidSubscription, ad.DecoderID)
	}

	plaintext, err := envelope.Open(payload, envelope.SubscriptionADSize, &c.params.SubscriptionKey, c.subscriptionPub)
	if err != nil {
		return err
	}

	sub, err := subscription.ParsePayload(plaintext, c.params.EmergencyChannelID)
	if err != nil {
		return err
	}

	if err := c.store.Update(sub); err != nil {
		return err
	}

	c.logger.Info("subscription installed",
		logging.KeyChannelID, sub.ChannelID,
		logging.KeyStart, sub.StartTime,
		logging.KeyEnd, sub.EndTime())
	return nil
}

// List serializes the stored subscriptions:
//
//	count:u32 || count * { channel_id:u32, start:u64, end:u64 }
//
// all little-endian.
func (c *Context) List() []byte {
	infos := c.store.List()

	body := make([]byte, 0, 4+len(infos)*20)
	body = binary.LittleEndian.AppendUint32(body, uint32(len(infos)))
	for _, info := range infos {
		body = binary.LittleEndian.AppendUint32(body, info.ChannelID)
		body = binary.LittleEndian.AppendUint64(body, info.StartTime)
		body = binary.LittleEndian.AppendUint64(body, info.EndTime)
	}
	return body
}
