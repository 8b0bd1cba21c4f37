package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// ErrUnknownExchange is returned when no protocol exists for a key.
var ErrUnknownExchange = errors.New("unknown exchange")

// Protocol hides per-exchange connection mechanics from SharedStream:
// how to reach the venue, what to send after connecting, how to keep
// the link alive, and how to decode kline frames.
type Protocol interface {
	Name() string

	// Connect performs any handshake the venue needs (token fetch,
	// endpoint discovery) and returns an open websocket.
	Connect(ctx context.Context) (*websocket.Conn, error)

	// SubscribeFrames are sent verbatim right after connecting. Venues
	// that encode the subscription in the URL return nothing.
	SubscribeFrames() [][]byte

	// PingInterval is how often PingFrame must be written; zero means
	// the venue pings us instead.
	PingInterval() time.Duration
	PingFrame() (messageType int, payload []byte)

	// Parse decodes one frame. ok=false skips frames that are not kline
	// updates (acks, pongs, heartbeats); an error marks a malformed
	// frame, which the stream logs and drops.
	Parse(msg []byte) (Tick, bool, error)
}

// ForExchange selects the protocol implementation for a stream key.
func ForExchange(key Key) (Protocol, error) {
	switch key.Exchange {
	case "binance":
		return newBinanceProtocol(key), nil
	case "kucoin":
		return newKucoinProtocol(key), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExchange, key.Exchange)
	}
}
