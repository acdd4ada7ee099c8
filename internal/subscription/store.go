package subscription

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/postalsys/skydecoder/internal/flash"
	"github.com/postalsys/skydecoder/internal/keytree"
	"github.com/postalsys/skydecoder/internal/metrics"
)

// MaxSubscriptions is the number of flash slots reserved for
// subscriptions, and therefore the number of channels a decoder can hold
// at once.
const MaxSubscriptions = 8

// ErrTooManySubscriptions is returned by Update when every slot is
// occupied by a different channel.
var ErrTooManySubscriptions = errors.New("Too many subscriptions")

// ChannelCache is the RAM-only companion of one stored subscription: the
// validated form of its verifying key plus the key-tree derivation path
// for the most recently decoded timestamps. It is rebuilt from flash after
// a power cycle and replaced wholesale when the subscription is.
type ChannelCache struct {
	PublicKey ed25519.PublicKey
	Path      keytree.Path
}

// Info is one row of a subscription listing.
type Info struct {
	ChannelID uint32
	StartTime uint64
	EndTime   uint64
}

// Store is the fixed-capacity set of channel subscriptions, one flash slot
// each. Lookups are linear scans; with eight slots there is nothing to
// index.
type Store struct {
	icc     flash.CacheController
	metrics *metrics.Metrics
	slots   [MaxSubscriptions]storeSlot
}

type storeSlot struct {
	slot  *flash.Slot
	cache *ChannelCache
}

// NewStore binds a store to its reserved pages. The slice must name
// exactly MaxSubscriptions pages.
func NewStore(dev flash.Device, icc flash.CacheController, pages []int, m *metrics.Metrics) (*Store, error) {
	if len(pages) != MaxSubscriptions {
		return nil, fmt.Errorf("store needs %d pages, got %d", MaxSubscriptions, len(pages))
	}

	s := &Store{icc: icc, metrics: m}
	for i, page := range pages {
		slot, err := flash.NewSlot(dev, page, CompressedSize)
		if err != nil {
			return nil, err
		}
		s.slots[i].slot = slot
	}

	if m != nil {
		m.SubscriptionsActive.Set(float64(s.occupied()))
	}
	return s, nil
}

// occupied counts slots holding a subscription.
func (s *Store) occupied() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].slot.HasObject() {
			n++
		}
	}
	return n
}

// load decodes the subscription in slot i, if any.
func (s *Store) load(i int) (*Compressed, bool) {
	data, ok := s.slots[i].slot.Get()
	if !ok {
		return nil, false
	}
	sub, err := Unmarshal(data)
	if err != nil {
		// The slot magic matched but the record cannot decode; the
		// geometry makes this impossible without store corruption.
		panic(fmt.Sprintf("flash slot %d: %v", i, err))
	}
	return sub, true
}

// Get returns the subscription for a channel together with its RAM cache.
// The cache is materialized from flash on first access after boot.
func (s *Store) Get(channelID uint32) (*Compressed, *ChannelCache, bool) {
	for i := range s.slots {
		sub, ok := s.load(i)
		if !ok || sub.ChannelID != channelID {
			continue
		}
		if s.slots[i].cache == nil {
			s.slots[i].cache = newChannelCache(sub.PublicKey)
		}
		return sub, s.slots[i].cache, true
	}
	return nil, nil, false
}

// Update persists a subscription: into the slot already holding its
// channel if one does, otherwise into the first empty slot. The write runs
// with the flash instruction cache disabled, and the slot's RAM cache is
// rebuilt so stale derivation state cannot outlive the old key material.
func (s *Store) Update(sub *Compressed) error {
	target := -1
	for i := range s.slots {
		if existing, ok := s.load(i); ok && existing.ChannelID == sub.ChannelID {
			target = i
			break
		}
	}
	if target < 0 {
		for i := range s.slots {
			if !s.slots[i].slot.HasObject() {
				target = i
				break
			}
		}
	}
	if target < 0 {
		return ErrTooManySubscriptions
	}

	s.icc.Disable()
	err := s.slots[target].slot.Set(sub.Marshal())
	s.icc.Enable()
	if err != nil {
		s.slots[target].cache = nil
		return err
	}

	s.slots[target].cache = newChannelCache(sub.PublicKey)

	if s.metrics != nil {
		s.metrics.FlashWrites.Inc()
		s.metrics.SubscriptionUpdates.Inc()
		s.metrics.SubscriptionsActive.Set(float64(s.occupied()))
	}
	return nil
}

// List reports every stored subscription with its recomputed end bound.
func (s *Store) List() []Info {
	infos := make([]Info, 0, MaxSubscriptions)
	for i := range s.slots {
		sub, ok := s.load(i)
		if !ok {
			continue
		}
		infos = append(infos, Info{
			ChannelID: sub.ChannelID,
			StartTime: sub.StartTime,
			EndTime:   sub.EndTime(),
		})
	}
	return infos
}

// newChannelCache validates a stored verifying key and builds the cache
// around it. A key that fails point decompression can only mean corrupted
// persisted state, which is not recoverable at runtime.
func newChannelCache(publicKey [32]byte) *ChannelCache {
	if _, err := new(edwards25519.Point).SetBytes(publicKey[:]); err != nil {
		panic(fmt.Sprintf("stored subscription has malformed public key: %v", err))
	}
	return &ChannelCache{
		PublicKey: ed25519.PublicKey(append([]byte(nil), publicKey[:]...)),
	}
}
