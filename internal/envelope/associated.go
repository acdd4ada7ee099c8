package envelope

import (
	"encoding/binary"
	"fmt"
)

// FrameAssociatedData rides unencrypted on every broadcast frame. The
// decoder needs the channel and timestamp before it can derive the frame
// key, so they cannot live inside the ciphertext.
type FrameAssociatedData struct {
	Timestamp uint64
	ChannelID uint8
}

// FrameADSize is the encoded size of FrameAssociatedData.
const FrameADSize = 9

// Bytes encodes the associated data in its wire layout (little-endian).
func (f FrameAssociatedData) Bytes() []byte {
	var buf [FrameADSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], f.Timestamp)
	buf[8] = f.ChannelID
	return buf[:]
}

// ParseFrameAD decodes the trailing associated data of a frame payload.
func ParseFrameAD(payload []byte) (FrameAssociatedData, error) {
	ad, err := AssociatedData(payload, FrameADSize)
	if err != nil {
		return FrameAssociatedData{}, err
	}
	return FrameAssociatedData{
		Timestamp: binary.LittleEndian.Uint64(ad[0:8]),
		ChannelID: ad[8],
	}, nil
}

// SubscriptionAssociatedData binds a subscription payload to one decoder.
type SubscriptionAssociatedData struct {
	DecoderID uint32
}

// SubscriptionADSize is the encoded size of SubscriptionAssociatedData.
const SubscriptionADSize = 4

// Bytes encodes the associated data in its wire layout (little-endian).
func (s SubscriptionAssociatedData) Bytes() []byte {
	var buf [SubscriptionADSize]byte
	binary.LittleEndian.PutUint32(buf[:], s.DecoderID)
	return buf[:]
}

// ParseSubscriptionAD decodes the trailing associated data of a
// subscription payload.
func ParseSubscriptionAD(payload []byte) (SubscriptionAssociatedData, error) {
	ad, err := AssociatedData(payload, SubscriptionADSize)
	if err != nil {
		return SubscriptionAssociatedData{}, err
	}
	return SubscriptionAssociatedData{
		DecoderID: binary.LittleEndian.Uint32(ad),
	}, nil
}

// MaxFrameLen is the largest frame a single broadcast payload can carry.
const MaxFrameLen = 64

// FrameData is the plaintext of a decoded frame. The payload is padded to a
// fixed 64 bytes so ciphertext length does not leak the frame length.
type FrameData struct {
	FrameLen  uint8
	FrameData [MaxFrameLen]byte
}

// FrameDataSize is the encoded size of FrameData.
const FrameDataSize = 65

// ParseFrameData decodes a decrypted frame body.
func ParseFrameData(plaintext []byte) (FrameData, error) {
	if len(plaintext) != FrameDataSize {
		return FrameData{}, fmt.Errorf("%w: frame body is %d bytes", ErrInvalidPayload, len(plaintext))
	}
	fd := FrameData{FrameLen: plaintext[0]}
	copy(fd.FrameData[:], plaintext[1:])
	if int(fd.FrameLen) > len(fd.FrameData) {
		return FrameData{}, fmt.Errorf("%w: frame length %d", ErrInvalidPayload, fd.FrameLen)
	}
	return fd, nil
}

// Bytes encodes the frame body in its fixed plaintext layout.
func (f FrameData) Bytes() []byte {
	buf := make([]byte, FrameDataSize)
	buf[0] = f.FrameLen
	copy(buf[1:], f.FrameData[:])
	return buf
}
