package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const binanceStreamHost = "wss://stream.binance.com:9443"

// binanceProtocol speaks the public Binance kline stream. The
// subscription is encoded in the URL, so no frames are sent after
// connecting, and Binance pings us rather than the other way around.
type binanceProtocol struct {
	key     Key
	baseURL string
	dialer  *websocket.Dialer
}

func newBinanceProtocol(key Key) *binanceProtocol {
	return &binanceProtocol{
		key:     key,
		baseURL: binanceStreamHost,
		dialer:  websocket.DefaultDialer,
	}
}

func (p *binanceProtocol) Name() string { return "binance" }

func (p *binanceProtocol) Connect(ctx context.Context) (*websocket.Conn, error) {
	// Binance requires lowercase symbols for websocket streams.
	u := fmt.Sprintf("%s/ws/%s@kline_%s", p.baseURL, strings.ToLower(p.key.Symbol), p.key.Interval)
	conn, _, err := p.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial binance ws: %w", err)
	}
	return conn, nil
}

func (p *binanceProtocol) SubscribeFrames() [][]byte { return nil }

func (p *binanceProtocol) PingInterval() time.Duration { return 0 }

func (p *binanceProtocol) PingFrame() (int, []byte) { return websocket.PingMessage, nil }

func (p *binanceProtocol) Parse(msg []byte) (Tick, bool, error) {
	var raw struct {
		Event string `json:"e"`
		Kline struct {
			Open   string `json:"o"`
			Close  string `json:"c"`
			High   string `json:"h"`
			Low    string `json:"l"`
			Volume string `json:"v"`
			Final  bool   `json:"x"`
		} `json:"k"`
	}
	if err := unmarshalFrame(msg, &raw); err != nil {
		return Tick{}, false, fmt.Errorf("binance kline frame: %w", err)
	}
	if raw.Event != "kline" {
		return Tick{}, false, nil
	}

	closePx, err := parsePrice(raw.Kline.Close)
	if err != nil {
		return Tick{}, false, fmt.Errorf("binance kline close %q: %w", raw.Kline.Close, err)
	}
	return Tick{
		Key:   p.key,
		Price: closePx,
		Candle: Candle{
			Open:   parsePriceLoose(raw.Kline.Open),
			High:   parsePriceLoose(raw.Kline.High),
			Low:    parsePriceLoose(raw.Kline.Low),
			Close:  closePx,
			Volume: parsePriceLoose(raw.Kline.Volume),
			Closed: raw.Kline.Final,
		},
		At: time.Now(),
	}, true, nil
}
