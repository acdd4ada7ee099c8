package deployment

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/bits"

	"github.com/postalsys/skydecoder/internal/envelope"
	"github.com/postalsys/skydecoder/internal/keytree"
	"github.com/postalsys/skydecoder/internal/subscription"
)

// CoverDepths computes the minimal aligned subtree cover of the inclusive
// interval [start, end]: the depths, in increasing timestamp order, of the
// largest tree nodes that tile the interval exactly. The full 64-bit
// interval is the single depth-0 node.
func CoverDepths(start, end uint64) ([]uint8, error) {
	if start == 0 && end == math.MaxUint64 {
		return []uint8{0}, nil
	}
	if end < start {
		return nil, fmt.Errorf("interval end %d before start %d", end, start)
	}

	var depths []uint8
	cur := start
	for {
		// Block size is bounded by the alignment of cur and by what is
		// left of the interval.
		size := uint64(1) << 63
		if cur != 0 {
			size = cur & -cur
		}
		remaining := end - cur + 1
		if largest := uint64(1) << (63 - bits.LeadingZeros64(remaining)); size > largest {
			size = largest
		}

		depths = append(depths, uint8(keytree.MaxDepth-bits.TrailingZeros64(size)))
		if len(depths) > subscription.MaxSubtrees {
			return nil, fmt.Errorf("interval [%d, %d] needs more than %d subtrees", start, end, subscription.MaxSubtrees)
		}

		last := cur + size - 1
		if last == end {
			return depths, nil
		}
		cur = last + 1
	}
}

// nodeKey derives the secret of the tree node covering exactly [lo, hi]
// from a channel's full-range root key.
func nodeKey(root [32]byte, lo, hi uint64) [32]byte {
	node := keytree.Subtree{Lo: 0, Hi: math.MaxUint64, Key: root}
	for node.Lo != lo || node.Hi != hi {
		left, right := keytree.Expand(node.Key)
		mid := node.Lo + (node.Hi-node.Lo)>>1
		if hi <= mid {
			node.Hi = mid
			node.Key = left
		} else {
			node.Lo = mid + 1
			node.Key = right
		}
	}
	return node.Key
}

// Compress builds the compressed subscription record for a channel
// interval: the cover depths plus the node secret at each cover root.
func (s *Secrets) Compress(channelID uint32, start, end uint64) (*subscription.Compressed, error) {
	root, signKey, err := s.channel(channelID)
	if err != nil {
		return nil, err
	}

	depths, err := CoverDepths(start, end)
	if err != nil {
		return nil, err
	}

	c := &subscription.Compressed{
		PublicKey:    publicKey(signKey),
		ChannelID:    channelID,
		StartTime:    start,
		SubtreeCount: uint8(len(depths)),
	}

	cur := start
	for i, depth := range depths {
		st := keytree.FromDepth(cur, depth, [32]byte{})
		c.Depths[i] = depth
		c.NodeKeys[i] = nodeKey(root, st.Lo, st.Hi)
		cur = st.Hi + 1
	}

	return c, nil
}

// MintSubscription produces the sealed subscription payload a decoder
// accepts over the wire: the compressed record, encrypted under the
// decoder's derived subscription key and signed by the deployment, with
// the decoder id as associated data.
func (s *Secrets) MintSubscription(decoderID, channelID uint32, start, end uint64) ([]byte, error) {
	c, err := s.Compress(channelID, start, end)
	if err != nil {
		return nil, err
	}

	symKey, err := s.SubscriptionKey(decoderID)
	if err != nil {
		return nil, err
	}
	signKey, err := s.subscribeSigningKey()
	if err != nil {
		return nil, err
	}

	ad := envelope.SubscriptionAssociatedData{DecoderID: decoderID}
	return envelope.Seal(c.Payload(), ad.Bytes(), &symKey, signKey, rand.Reader)
}

// EncodeFrame produces a sealed broadcast frame for one timestamp. The
// emergency channel encrypts under its root key directly; every other
// channel uses the per-timestamp leaf key, which is what lets a
// subscription's subtrees decrypt it.
func (s *Secrets) EncodeFrame(emergencyChannel, channelID uint32, timestamp uint64, frame []byte) ([]byte, error) {
	if channelID > 0xFF {
		return nil, fmt.Errorf("channel %d does not fit the frame channel byte", channelID)
	}
	if len(frame) > envelope.MaxFrameLen {
		return nil, fmt.Errorf("frame is %d bytes, max %d", len(frame), envelope.MaxFrameLen)
	}

	root, signKey, err := s.channel(channelID)
	if err != nil {
		return nil, err
	}

	symKey := root
	if channelID != emergencyChannel {
		symKey = nodeKey(root, timestamp, timestamp)
	}

	fd := envelope.FrameData{FrameLen: uint8(len(frame))}
	copy(fd.FrameData[:], frame)

	ad := envelope.FrameAssociatedData{Timestamp: timestamp, ChannelID: uint8(channelID)}
	return envelope.Seal(fd.Bytes(), ad.Bytes(), &symKey, signKey, rand.Reader)
}
