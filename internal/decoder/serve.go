package decoder

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/postalsys/skydecoder/internal/logging"
	"github.com/postalsys/skydecoder/internal/wire"
)

// Serve runs the decoder main loop on one host link: read a request,
// dispatch on its opcode, write the response. Handler errors are reported
// to the host as a single Error message and the loop continues; a read
// that fails for any reason other than the link closing is reported the
// same way. A failed write ends the loop with that error. Serve returns nil
// when the host closes the link.
func (c *Context) Serve(conn *wire.Conn) error {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if isClosed(err) {
				return nil
			}
			if c.metrics != nil {
				c.metrics.ProtocolErrors.Inc()
			}
			c.logger.Warn("framing error", logging.KeyError, err)
			if werr := conn.WriteError(err.Error()); werr != nil {
				return werr
			}
			continue
		}

		if c.metrics != nil {
			c.metrics.MessagesRead.WithLabelValues(msg.Opcode.String()).Inc()
		}

		resp, err := c.dispatch(msg)
		if err != nil {
			if c.metrics != nil {
				c.metrics.DecodeErrors.WithLabelValues(errorReason(err)).Inc()
			}
			c.logger.Warn("request failed",
				logging.KeyOpcode, msg.Opcode.String(),
				logging.KeyError, err)
			if werr := conn.WriteError(err.Error()); werr != nil {
				if isClosed(werr) {
					return nil
				}
				return werr
			}
			continue
		}

		if err := conn.WriteMessage(resp); err != nil {
			if isClosed(err) {
				return nil
			}
			return err
		}
		if c.metrics != nil {
			c.metrics.MessagesWritten.WithLabelValues(resp.Opcode.String()).Inc()
		}
	}
}

// dispatch routes one request to its pipeline and builds the response.
func (c *Context) dispatch(msg *wire.Message) (*wire.Message, error) {
	switch msg.Opcode {
	case wire.OpDecode:
		frame, err := c.Decode(msg.Body)
		if err != nil {
			return nil, err
		}
		return &wire.Message{Opcode: wire.OpDecode, Body: frame}, nil

	case wire.OpSubscribe:
		if err := c.Subscribe(msg.Body); err != nil {
			return nil, err
		}
		return &wire.Message{Opcode: wire.OpSubscribe}, nil

	case wire.OpList:
		return &wire.Message{Opcode: wire.OpList, Body: c.List()}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnexpectedOpcode, msg.Opcode)
}

// isClosed reports whether an error means the host link is gone rather
// than a protocol failure.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
