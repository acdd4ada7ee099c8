package decoder

import (
	"errors"

	"github.com/postalsys/skydecoder/internal/envelope"
	"github.com/postalsys/skydecoder/internal/keytree"
	"github.com/postalsys/skydecoder/internal/subscription"
)

var (
	// ErrInvalidSubscription is returned when a frame names a channel
	// with no stored subscription, or when a subscription update is not
	// bound to this decoder.
	ErrInvalidSubscription = errors.New("invalid subscription")

	// ErrInvalidTimestamp is returned when a frame's timestamp falls
	// outside its channel's subscribed interval.
	ErrInvalidTimestamp = errors.New("timestamp outside subscription range")

	// ErrNonMonotonicTimestamp is returned when a frame does not advance
	// past the last successfully decoded timestamp.
	ErrNonMonotonicTimestamp = errors.New("non-monotonic timestamp")

	// ErrUnexpectedOpcode is returned when a request carries an opcode
	// the decoder does not handle.
	ErrUnexpectedOpcode = errors.New("unexpected opcode")
)

// errorReason maps a handler error to a stable metrics label.
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrNonMonotonicTimestamp):
		return "non_monotonic"
	case errors.Is(err, ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, ErrInvalidSubscription):
		return "invalid_subscription"
	case errors.Is(err, keytree.ErrNoTimestampFound):
		return "no_timestamp"
	case errors.Is(err, subscription.ErrTooManySubscriptions):
		return "too_many_subscriptions"
	case errors.Is(err, subscription.ErrMalformedSubscription),
		errors.Is(err, subscription.ErrEmergencyChannel):
		return "malformed_subscription"
	case errors.Is(err, envelope.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrUnexpectedOpcode):
		return "unexpected_opcode"
	}
	return "other"
}
