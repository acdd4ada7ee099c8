// Package subscription defines the compressed subscription record and the
// flash-backed store that persists one record per channel.
//
// A subscription authorizes one channel for a contiguous timestamp
// interval. Rather than storing per-timestamp keys, it stores the minimal
// set of key-tree interior nodes covering the interval: a start timestamp
// and, per node, only its depth. The node intervals are implied by walking
// the depths from the start, so the persisted form stays small and cannot
// encode gaps or overlaps.
package subscription

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/postalsys/skydecoder/internal/keytree"
)

// MaxSubtrees is the largest number of key subtrees a subscription can
// carry. 126 is the worst case for a 64-bit interval; 128 keeps the record
// layout round.
const MaxSubtrees = 128

// CompressedSize is the size of the persisted record:
// 32 (public key) + 4 (channel) + 8 (start) + 1 (count) + 128 (depths) +
// 128*32 (node keys).
const CompressedSize = 32 + 4 + 8 + 1 + MaxSubtrees + MaxSubtrees*keytree.KeySize

var (
	// ErrMalformedSubscription is returned when a subscription payload
	// does not parse.
	ErrMalformedSubscription = errors.New("malformed subscription")

	// ErrEmergencyChannel is returned when a subscription names the
	// emergency channel, which never needs one.
	ErrEmergencyChannel = errors.New("subscription for emergency channel")
)

// Compressed is a channel subscription in its persisted form. Every bit
// pattern of its encoding decodes to some instance; validity beyond that is
// guaranteed by the envelope signature on the way in.
type Compressed struct {
	PublicKey    [32]byte
	ChannelID    uint32
	StartTime    uint64
	SubtreeCount uint8
	Depths       [MaxSubtrees]uint8
	NodeKeys     [MaxSubtrees][keytree.KeySize]byte
}

// Marshal encodes the record into its fixed flash layout (little-endian).
func (c *Compressed) Marshal() []byte {
	buf := make([]byte, CompressedSize)
	off := 0

	copy(buf[off:], c.PublicKey[:])
	off += 32

	binary.LittleEndian.PutUint32(buf[off:], c.ChannelID)
	off += 4

	binary.LittleEndian.PutUint64(buf[off:], c.StartTime)
	off += 8

	buf[off] = c.SubtreeCount
	off++

	copy(buf[off:], c.Depths[:])
	off += MaxSubtrees

	for i := range c.NodeKeys {
		copy(buf[off:], c.NodeKeys[i][:])
		off += keytree.KeySize
	}

	return buf
}

// Unmarshal decodes a flash record. Records come off flash already gated by
// the slot magic, so length is the only thing to check.
func Unmarshal(data []byte) (*Compressed, error) {
	if len(data) != CompressedSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedSubscription, len(data))
	}

	c := &Compressed{}
	off := 0

	copy(c.PublicKey[:], data[off:])
	off += 32

	c.ChannelID = binary.LittleEndian.Uint32(data[off:])
	off += 4

	c.StartTime = binary.LittleEndian.Uint64(data[off:])
	off += 8

	c.SubtreeCount = data[off]
	off++

	copy(c.Depths[:], data[off:])
	off += MaxSubtrees

	for i := range c.NodeKeys {
		copy(c.NodeKeys[i][:], data[off:])
		off += keytree.KeySize
	}

	return c, nil
}

// ParsePayload decodes the plaintext of a subscription update:
//
//	public_key[32] || start_time:u64 || channel_id:u32 || subtree_count:u8
//	|| depths[subtree_count] || node_keys[subtree_count][32]
//
// all little-endian, with no padding entries on the wire. The emergency
// channel id is rejected; it never has a subscription.
func ParsePayload(plaintext []byte, emergencyChannel uint32) (*Compressed, error) {
	const fixed = 32 + 8 + 4 + 1
	if len(plaintext) < fixed {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedSubscription, len(plaintext))
	}

	c := &Compressed{}
	copy(c.PublicKey[:], plaintext[0:32])
	c.StartTime = binary.LittleEndian.Uint64(plaintext[32:40])
	c.ChannelID = binary.LittleEndian.Uint32(plaintext[40:44])
	c.SubtreeCount = plaintext[44]

	if c.ChannelID == emergencyChannel {
		return nil, ErrEmergencyChannel
	}

	n := int(c.SubtreeCount)
	if n == 0 || n > MaxSubtrees {
		return nil, fmt.Errorf("%w: %d subtrees", ErrMalformedSubscription, n)
	}
	if len(plaintext) != fixed+n+n*keytree.KeySize {
		return nil, fmt.Errorf("%w: %d bytes for %d subtrees", ErrMalformedSubscription, len(plaintext), n)
	}

	off := fixed
	for i := 0; i < n; i++ {
		if plaintext[off+i] > keytree.MaxDepth {
			return nil, fmt.Errorf("%w: depth %d", ErrMalformedSubscription, plaintext[off+i])
		}
		c.Depths[i] = plaintext[off+i]
	}
	off += n

	for i := 0; i < n; i++ {
		copy(c.NodeKeys[i][:], plaintext[off:])
		off += keytree.KeySize
	}

	return c, nil
}

// Payload encodes the record into the wire plaintext form, the inverse of
// ParsePayload. The authority side uses it when minting subscriptions.
func (c *Compressed) Payload() []byte {
	n := int(c.SubtreeCount)
	buf := make([]byte, 0, 45+n+n*keytree.KeySize)

	buf = append(buf, c.PublicKey[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, c.StartTime)
	buf = binary.LittleEndian.AppendUint32(buf, c.ChannelID)
	buf = append(buf, c.SubtreeCount)
	buf = append(buf, c.Depths[:n]...)
	for i := 0; i < n; i++ {
		buf = append(buf, c.NodeKeys[i][:]...)
	}

	return buf
}

// ActiveSubtrees expands the depth list into concrete key-tree nodes in
// increasing timestamp order. The walk uses wrapping addition: a depth of 0
// covers the entire 64-bit space and "one past its end" wraps to its start.
func (c *Compressed) ActiveSubtrees() []keytree.Subtree {
	n := int(c.SubtreeCount)
	if n > MaxSubtrees {
		n = MaxSubtrees
	}

	subtrees := make([]keytree.Subtree, 0, n)
	next := c.StartTime
	for i := 0; i < n; i++ {
		st := keytree.FromDepth(next, c.Depths[i], c.NodeKeys[i])
		subtrees = append(subtrees, st)
		next = st.Hi + 1
	}
	return subtrees
}

// EndTime recomputes the inclusive upper bound of the subscription from the
// depth list.
func (c *Compressed) EndTime() uint64 {
	subtrees := c.ActiveSubtrees()
	if len(subtrees) == 0 {
		return c.StartTime
	}
	return subtrees[len(subtrees)-1].Hi
}
