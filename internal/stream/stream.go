package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const subscriberBuffer = 64

// SharedStream is one live connection for a stream key. All bots on the
// same key share it; each gets a buffered channel drained by its own
// goroutine, so one stalled bot never blocks the read loop or its
// siblings. Overflowing a subscriber's buffer drops ticks for that
// subscriber only.
type SharedStream struct {
	key   Key
	proto Protocol

	reconnectDelay time.Duration
	readTimeout    time.Duration

	mu   sync.Mutex
	subs map[string]chan Tick
	conn *websocket.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

func newSharedStream(key Key, proto Protocol, reconnectDelay, readTimeout time.Duration) *SharedStream {
	return &SharedStream{
		key:            key,
		proto:          proto,
		reconnectDelay: reconnectDelay,
		readTimeout:    readTimeout,
		subs:           make(map[string]chan Tick),
		done:           make(chan struct{}),
	}
}

func (s *SharedStream) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

func (s *SharedStream) stop() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

func (s *SharedStream) subscribe(sub Subscriber) {
	ch := make(chan Tick, subscriberBuffer)
	s.mu.Lock()
	s.subs[sub.ID()] = ch
	s.mu.Unlock()

	go func() {
		for t := range ch {
			sub.HandleTick(t)
		}
	}()
}

// unsubscribe removes a subscriber and reports how many remain.
func (s *SharedStream) unsubscribe(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	return len(s.subs)
}

func (s *SharedStream) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// run is the connection supervisor: connect, serve until the link
// fails, then back off and reconnect until stopped. Subscribers stay
// registered across reconnects.
func (s *SharedStream) run(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.proto.Connect(ctx)
		if err != nil {
			log.Printf("stream %s: connect failed: %v (retrying in %v)", s.key, err, s.reconnectDelay)
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		s.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		log.Printf("stream %s: connection lost, reconnecting in %v", s.key, s.reconnectDelay)
		if !s.sleep(ctx) {
			return
		}
	}
}

// serve drives one connection until it dies. A read deadline bounds
// every blocking read; a deadline miss means the venue went quiet and
// the connection is treated as dead (gorilla connections are unusable
// after a deadline error anyway).
func (s *SharedStream) serve(ctx context.Context, conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for _, frame := range s.proto.SubscribeFrames() {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("stream %s: subscribe write failed: %v", s.key, err)
			return
		}
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	if every := s.proto.PingInterval(); every > 0 {
		go s.pingLoop(conn, every, pingDone)
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("stream %s: read failed: %v", s.key, err)
			}
			return
		}

		tick, ok, err := s.proto.Parse(msg)
		if err != nil {
			// Malformed frames are dropped; the connection stays up.
			log.Printf("stream %s: dropping frame: %v", s.key, err)
			continue
		}
		if !ok {
			continue
		}
		s.publish(tick)
	}
}

func (s *SharedStream) pingLoop(conn *websocket.Conn, every time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			msgType, payload := s.proto.PingFrame()
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(msgType, payload); err != nil {
				return
			}
		}
	}
}

func (s *SharedStream) publish(t Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- t:
		default:
			// Subscriber buffer full; it skips this tick.
		}
	}
}

// sleep waits the reconnect delay, or returns false when stopped.
func (s *SharedStream) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.reconnectDelay):
		return true
	}
}
