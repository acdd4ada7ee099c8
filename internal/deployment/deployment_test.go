package deployment

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/postalsys/skydecoder/internal/keytree"
	"github.com/postalsys/skydecoder/internal/subscription"
)

func testSecrets(t *testing.T) *Secrets {
	t.Helper()
	secrets, err := Generate([]uint32{0, 1, 3})
	if err != nil {
		t.Fatal(err)
	}
	return secrets
}

func TestCoverDepths(t *testing.T) {
	tests := []struct {
		name       string
		start, end uint64
		want       []uint8
	}{
		{"single leaf", 5, 5, []uint8{64}},
		{"aligned pair", 4, 5, []uint8{63}},
		{"aligned block", 0, 1023, []uint8{54}},
		{"hundred block", 100, 199, []uint8{62, 61, 60, 58, 61}},
		{"full range", 0, math.MaxUint64, []uint8{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoverDepths(tt.start, tt.end)
			if err != nil {
				t.Fatal(err)
			}

			// The cover must tile [start, end] exactly.
			next := tt.start
			for i, depth := range got {
				st := keytree.FromDepth(next, depth, [32]byte{})
				if st.Lo != next {
					t.Fatalf("block %d starts at %d, want %d", i, st.Lo, next)
				}
				if st.Lo != 0 && st.Lo%(st.Hi-st.Lo+1) != 0 && depth != 0 {
					t.Fatalf("block %d is not aligned to its span", i)
				}
				next = st.Hi + 1
			}
			// One past the last block wraps for a cover ending at the
			// top of the timestamp space.
			if next != tt.end+1 {
				t.Fatalf("cover ends at %d, want %d", next-1, tt.end)
			}

			if tt.want != nil {
				if len(got) != len(tt.want) {
					t.Fatalf("got %d blocks %v, want %v", len(got), got, tt.want)
				}
				for i := range got {
					if got[i] != tt.want[i] {
						t.Fatalf("got %v, want %v", got, tt.want)
					}
				}
			}
		})
	}
}

func TestCoverDepthsRejectsBackwardInterval(t *testing.T) {
	if _, err := CoverDepths(10, 9); err == nil {
		t.Fatal("backward interval accepted")
	}
}

func TestCoverDepthsBounded(t *testing.T) {
	// The worst-case cover of any interval fits the subscription record.
	starts := []uint64{0, 1, 2, 3, 1<<32 - 1, 1<<32 + 1, math.MaxUint64 / 3}
	ends := []uint64{math.MaxUint64, math.MaxUint64 - 1, math.MaxUint64 / 2}

	for _, s := range starts {
		for _, e := range ends {
			if e < s {
				continue
			}
			depths, err := CoverDepths(s, e)
			if err != nil {
				t.Fatalf("CoverDepths(%d, %d): %v", s, e, err)
			}
			if len(depths) > subscription.MaxSubtrees {
				t.Fatalf("CoverDepths(%d, %d) needs %d blocks", s, e, len(depths))
			}
		}
	}
}

func TestSubscriptionKeyDeterministicPerDecoder(t *testing.T) {
	secrets := testSecrets(t)

	k1, err := secrets.SubscriptionKey(7)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := secrets.SubscriptionKey(7)
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Fatal("subscription key is not deterministic")
	}

	k3, err := secrets.SubscriptionKey(8)
	if err != nil {
		t.Fatal(err)
	}
	if k1 == k3 {
		t.Fatal("different decoders derived the same key")
	}
}

func TestDecoderParams(t *testing.T) {
	secrets := testSecrets(t)

	params, err := secrets.DecoderParams(7, 0)
	if err != nil {
		t.Fatal(err)
	}
	if params.DecoderID != 7 || params.EmergencyChannelID != 0 {
		t.Fatalf("params identity %d/%d", params.DecoderID, params.EmergencyChannelID)
	}
	if params.SubscriptionKey == ([32]byte{}) || params.EmergencyKey == ([32]byte{}) {
		t.Fatal("zero key material")
	}

	if _, err := secrets.DecoderParams(7, 99); err == nil {
		t.Fatal("unknown emergency channel accepted")
	}
}

func TestCompressMatchesCover(t *testing.T) {
	secrets := testSecrets(t)

	c, err := secrets.Compress(3, 100, 199)
	if err != nil {
		t.Fatal(err)
	}

	if c.ChannelID != 3 || c.StartTime != 100 {
		t.Fatalf("compressed identity %d/%d", c.ChannelID, c.StartTime)
	}
	if c.EndTime() != 199 {
		t.Fatalf("EndTime() = %d, want 199", c.EndTime())
	}

	// Every node key must equal the tree-derived key for its interval.
	ch := secrets.Channels[3]
	root, err := key32("root_key", ch.RootKey)
	if err != nil {
		t.Fatal(err)
	}
	for i, st := range c.ActiveSubtrees() {
		if want := nodeKey(root, st.Lo, st.Hi); st.Key != want {
			t.Fatalf("node %d key mismatch for [%d, %d]", i, st.Lo, st.Hi)
		}
	}
}

func TestMintSubscriptionParses(t *testing.T) {
	secrets := testSecrets(t)

	payload, err := secrets.MintSubscription(7, 3, 100, 199)
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) > 4608 {
		t.Fatalf("subscription payload is %d bytes, exceeds the wire body limit", len(payload))
	}

	if _, err := secrets.MintSubscription(7, 2, 100, 199); err == nil {
		t.Fatal("minting for a channel without secrets succeeded")
	}
}

func TestMintWorstCasePayloadFitsWire(t *testing.T) {
	secrets := testSecrets(t)

	// An interval needing the deepest cover on both flanks.
	payload, err := secrets.MintSubscription(7, 3, 1, math.MaxUint64-1)
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) > 4608 {
		t.Fatalf("worst-case payload is %d bytes", len(payload))
	}
}

func TestSecretsRoundTrip(t *testing.T) {
	secrets := testSecrets(t)

	path := filepath.Join(t.TempDir(), "deployment.secrets.yaml")
	if err := secrets.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.SubscribeRootKey != secrets.SubscribeRootKey {
		t.Fatal("subscribe root key did not round-trip")
	}
	if len(loaded.Channels) != len(secrets.Channels) {
		t.Fatalf("loaded %d channels, want %d", len(loaded.Channels), len(secrets.Channels))
	}
	if loaded.Channels[3] != secrets.Channels[3] {
		t.Fatal("channel secrets did not round-trip")
	}
}

func TestEncodeFrameValidation(t *testing.T) {
	secrets := testSecrets(t)

	if _, err := secrets.EncodeFrame(0, 3, 1, make([]byte, 65)); err == nil {
		t.Fatal("oversized frame accepted")
	}
	if _, err := secrets.EncodeFrame(0, 300, 1, []byte("x")); err == nil {
		t.Fatal("channel beyond the frame channel byte accepted")
	}
	if _, err := secrets.EncodeFrame(0, 2, 1, []byte("x")); err == nil {
		t.Fatal("channel without secrets accepted")
	}
}
