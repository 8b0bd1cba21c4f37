package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/exchanges/common"
)

const kucoinAPIBase = "https://api.kucoin.com"

// kucoinIntervals maps the compact interval names used in bot configs
// to KuCoin's candle types.
var kucoinIntervals = map[string]string{
	"1m": "1min", "3m": "3min", "5m": "5min", "15m": "15min", "30m": "30min",
	"1h": "1hour", "2h": "2hour", "4h": "4hour", "6h": "6hour", "8h": "8hour",
	"12h": "12hour", "1d": "1day", "1w": "1week",
}

// kucoinProtocol speaks KuCoin's public websocket. Unlike Binance the
// endpoint is not fixed: every connection starts with a bullet-public
// handshake that returns a short-lived token, the websocket host, and
// the ping cadence the server expects.
type kucoinProtocol struct {
	key     Key
	apiBase string
	httpc   *http.Client
	dialer  *websocket.Dialer

	pingEvery time.Duration
}

func newKucoinProtocol(key Key) *kucoinProtocol {
	return &kucoinProtocol{
		key:       key,
		apiBase:   kucoinAPIBase,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		dialer:    websocket.DefaultDialer,
		pingEvery: 18 * time.Second,
	}
}

func (p *kucoinProtocol) Name() string { return "kucoin" }

type kucoinBullet struct {
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int64  `json:"pingInterval"` // milliseconds
		} `json:"instanceServers"`
	} `json:"data"`
}

func (p *kucoinProtocol) Connect(ctx context.Context) (*websocket.Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/api/v1/bullet-public", nil)
	if err != nil {
		return nil, fmt.Errorf("kucoin bullet request: %w", err)
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kucoin bullet: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kucoin bullet: status %d", resp.StatusCode)
	}

	var bullet kucoinBullet
	if err := json.NewDecoder(resp.Body).Decode(&bullet); err != nil {
		return nil, fmt.Errorf("kucoin bullet decode: %w", err)
	}
	if bullet.Data.Token == "" || len(bullet.Data.InstanceServers) == 0 {
		return nil, fmt.Errorf("kucoin bullet: empty token or server list")
	}

	server := bullet.Data.InstanceServers[0]
	if server.PingInterval > 0 {
		p.pingEvery = time.Duration(server.PingInterval) * time.Millisecond
	}

	u := fmt.Sprintf("%s?token=%s&connectId=%s", server.Endpoint, bullet.Data.Token, uuid.NewString())
	conn, _, err := p.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial kucoin ws: %w", err)
	}
	return conn, nil
}

// SubscribeFrames requests candle updates for the dashed symbol form
// KuCoin uses (BTC-USDT rather than BTCUSDT).
func (p *kucoinProtocol) SubscribeFrames() [][]byte {
	frame, _ := json.Marshal(map[string]any{
		"id":       uuid.NewString(),
		"type":     "subscribe",
		"topic":    fmt.Sprintf("/market/candles:%s_%s", p.dashSymbol(), p.candleType()),
		"response": true,
	})
	return [][]byte{frame}
}

func (p *kucoinProtocol) PingInterval() time.Duration { return p.pingEvery }

// PingFrame is a JSON text message; KuCoin ignores websocket-level pings.
func (p *kucoinProtocol) PingFrame() (int, []byte) {
	frame, _ := json.Marshal(map[string]string{"id": uuid.NewString(), "type": "ping"})
	return websocket.TextMessage, frame
}

// Parse handles candle messages and skips the protocol chatter
// (welcome, ack, pong). Candle arrays are ordered
// [time, open, close, high, low, volume, turnover], all strings.
func (p *kucoinProtocol) Parse(msg []byte) (Tick, bool, error) {
	var raw struct {
		Type    string `json:"type"`
		Subject string `json:"subject"`
		Data    struct {
			Candles []string `json:"candles"`
		} `json:"data"`
	}
	if err := unmarshalFrame(msg, &raw); err != nil {
		return Tick{}, false, fmt.Errorf("kucoin frame: %w", err)
	}
	if raw.Type != "message" || !strings.HasPrefix(raw.Subject, "trade.candles.") {
		return Tick{}, false, nil
	}
	if len(raw.Data.Candles) < 6 {
		return Tick{}, false, fmt.Errorf("kucoin candle array too short: %d fields", len(raw.Data.Candles))
	}

	closePx, err := parsePrice(raw.Data.Candles[2])
	if err != nil {
		return Tick{}, false, fmt.Errorf("kucoin candle close %q: %w", raw.Data.Candles[2], err)
	}
	return Tick{
		Key:   p.key,
		Price: closePx,
		Candle: Candle{
			Open:   parsePriceLoose(raw.Data.Candles[1]),
			Close:  closePx,
			High:   parsePriceLoose(raw.Data.Candles[3]),
			Low:    parsePriceLoose(raw.Data.Candles[4]),
			Volume: parsePriceLoose(raw.Data.Candles[5]),
			// "add" announces a fresh candle, meaning the previous one closed.
			Closed: raw.Subject == "trade.candles.add",
		},
		At: time.Now(),
	}, true, nil
}

func (p *kucoinProtocol) dashSymbol() string {
	if strings.Contains(p.key.Symbol, "-") {
		return p.key.Symbol
	}
	base, quote := common.SplitSymbol(p.key.Symbol)
	return base + "-" + quote
}

func (p *kucoinProtocol) candleType() string {
	if t, ok := kucoinIntervals[p.key.Interval]; ok {
		return t
	}
	return p.key.Interval
}
