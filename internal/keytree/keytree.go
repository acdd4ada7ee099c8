// Package keytree implements the GGM key-derivation tree that turns a
// compact subscription into per-timestamp symmetric keys.
//
// The tree is a perfect binary tree of depth 64 whose leaves are indexed by
// timestamp. An interior node at depth d covers a contiguous aligned span of
// 2^(64-d) timestamps and carries a 32-byte secret. Expanding a node's
// secret with one ChaCha20 keystream block yields the secrets of both
// children, so holding a node is equivalent to holding every leaf key
// beneath it.
package keytree

import (
	"errors"
	"math"

	"golang.org/x/crypto/chacha20"
)

// KeySize is the size of a node secret in bytes.
const KeySize = 32

// MaxDepth is the depth of the tree; leaves sit at depth 64.
const MaxDepth = 64

// ErrNoTimestampFound is returned when no subtree of a subscription covers
// the requested timestamp.
var ErrNoTimestampFound = errors.New("no subtree contains timestamp")

// Subtree is one interior node: a covered inclusive timestamp interval and
// the secret at its root. The interval length is always a power of two and
// the interval is aligned to its own length; depth 0 covers the whole
// 64-bit space.
type Subtree struct {
	Lo  uint64
	Hi  uint64
	Key [KeySize]byte
}

// Contains reports whether the node's interval covers t.
func (s *Subtree) Contains(t uint64) bool {
	return t >= s.Lo && t <= s.Hi
}

// Expand derives the child secrets of a node. The node secret seeds a
// ChaCha20 keystream (zero nonce, zero counter); the first 32 bytes are the
// left child's secret, the next 32 the right child's.
func Expand(key [KeySize]byte) (left, right [KeySize]byte) {
	var nonce [chacha20.NonceSize]byte
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// Key and nonce sizes are fixed; this cannot fail.
		panic(err)
	}

	var block [2 * KeySize]byte
	cipher.XORKeyStream(block[:], block[:])

	copy(left[:], block[:KeySize])
	copy(right[:], block[KeySize:])
	return left, right
}

// FromDepth builds the subtree rooted at start with the given depth. A
// depth of 0 covers the full 64-bit space; the high bound wraps, which is
// how a full-range node encodes Hi without overflowing.
func FromDepth(start uint64, depth uint8, key [KeySize]byte) Subtree {
	return Subtree{Lo: start, Hi: start + spanMinusOne(depth), Key: key}
}

// spanMinusOne returns the covered interval length minus one for a node at
// the given depth. Computed this way so depth 0 (a span of 2^64) stays
// representable.
func spanMinusOne(depth uint8) uint64 {
	if depth == 0 {
		return math.MaxUint64
	}
	return 1<<(MaxDepth-uint(depth)) - 1
}

// Derive walks from a covering node down to the leaf for t and returns the
// leaf secret, which is the symmetric key for that timestamp.
//
// The walk prefers the cached path: if the path's root still contains t, the
// deepest cached node containing t is the starting point and everything
// below it is truncated away. Otherwise the path is cleared and the covering
// node is looked up in roots, the subscription's active subtrees in
// increasing timestamp order.
//
// Every node visited on the way down is pushed onto the path, so a
// subsequent Derive for a nearby timestamp only recomputes the levels on
// which the two timestamps disagree.
func Derive(roots []Subtree, path *Path, t uint64) ([KeySize]byte, error) {
	node, ok := path.descend(t)
	if !ok {
		path.Reset()
		found := false
		for i := range roots {
			if roots[i].Contains(t) {
				node = roots[i]
				found = true
				break
			}
		}
		if !found {
			return [KeySize]byte{}, ErrNoTimestampFound
		}
	}

	for node.Lo != node.Hi {
		left, right := Expand(node.Key)

		// (Lo+Hi)/2 would overflow for a full-range node.
		mid := node.Lo + (node.Hi-node.Lo)>>1

		if t <= mid {
			node.Hi = mid
			node.Key = left
		} else {
			node.Lo = mid + 1
			node.Key = right
		}

		path.push(node)
	}

	return node.Key, nil
}
