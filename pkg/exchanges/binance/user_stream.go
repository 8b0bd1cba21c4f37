package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/exchanges/common"
)

// CreateListenKey opens a new user data stream.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.doKeyed(ctx, http.MethodPost, "/api/v3/userDataStream", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends the validity of a listen key.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	_, err := c.doKeyed(ctx, http.MethodPut, "/api/v3/userDataStream?"+params.Encode(), nil)
	return err
}

// CloseListenKey closes a user data stream.
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	_, err := c.doKeyed(ctx, http.MethodDelete, "/api/v3/userDataStream?"+params.Encode(), nil)
	return err
}

// doKeyed performs an API-key-only (unsigned) request.
func (c *Client) doKeyed(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.New("binance: API key required")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance %s status %d", path, res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

// UserStream delivers execution reports from the private stream. The
// stream is authoritative: engines reconcile optimistic state from it.
type UserStream struct {
	client  *Client
	testnet bool
}

func NewUserStream(client *Client, testnet bool) *UserStream {
	return &UserStream{client: client, testnet: testnet}
}

// Run connects, keeps the listen key alive and pushes fills into out
// until ctx is canceled. Connection failures reconnect after delay.
func (s *UserStream) Run(ctx context.Context, out chan<- common.Fill, delay time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.runOnce(ctx, out); err != nil {
			log.Printf("user stream: %v; reconnecting in %v", err, delay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *UserStream) runOnce(ctx context.Context, out chan<- common.Fill) error {
	listenKey, err := s.client.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.client.CloseListenKey(closeCtx, listenKey)
	}()

	host := "stream.binance.com:9443"
	if s.testnet {
		host = "testnet.binance.vision"
	}
	wsURL := (&url.URL{Scheme: "wss", Host: host, Path: "/ws/" + listenKey}).String()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial user stream: %w", err)
	}
	defer conn.Close()

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	// Listen keys expire after 60 minutes without a keepalive.
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := s.client.KeepAliveListenKey(ctx, listenKey); err != nil {
					log.Printf("user stream keepalive: %v", err)
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		fill, ok := parseExecutionReport(msg)
		if !ok {
			continue
		}
		select {
		case out <- fill:
		case <-ctx.Done():
			return nil
		}
	}
}

// parseExecutionReport extracts a Fill from an executionReport event.
// Non-trade events and malformed frames are skipped.
func parseExecutionReport(msg []byte) (common.Fill, bool) {
	var rep struct {
		EventType     string `json:"e"`
		Symbol        string `json:"s"`
		Side          string `json:"S"`
		Status        string `json:"X"`
		ExecutionType string `json:"x"`
		OrderID       int64  `json:"i"`
		ClientOrderID string `json:"c"`
		LastQty       string `json:"l"`
		LastPrice     string `json:"L"`
		CumQty        string `json:"z"`
		CumQuote      string `json:"Z"`
	}
	if err := json.Unmarshal(msg, &rep); err != nil {
		return common.Fill{}, false
	}
	if rep.EventType != "executionReport" || rep.ExecutionType != "TRADE" {
		return common.Fill{}, false
	}

	price := toFloat(rep.LastPrice)
	cumQty := toFloat(rep.CumQty)
	if price == 0 && cumQty > 0 {
		price = toFloat(rep.CumQuote) / cumQty
	}
	return common.Fill{
		ExchangeOrderID: fmt.Sprintf("%d", rep.OrderID),
		ClientID:        rep.ClientOrderID,
		Symbol:          rep.Symbol,
		Side:            common.Side(rep.Side),
		Qty:             toFloat(rep.LastQty),
		Price:           price,
		CumQty:          cumQty,
		Status:          mapStatus(rep.Status),
	}, true
}
