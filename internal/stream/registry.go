package stream

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Registry owns every shared stream in the process. Acquire attaches a
// subscriber, creating and connecting the stream on first use; Release
// detaches it and tears the stream down when nobody is left.
type Registry struct {
	reconnectDelay time.Duration
	readTimeout    time.Duration

	// protocolFor is swapped out by tests to point streams at a local
	// websocket server.
	protocolFor func(Key) (Protocol, error)

	mu      sync.Mutex
	streams map[Key]*SharedStream
}

func NewRegistry(reconnectDelay, readTimeout time.Duration) *Registry {
	return &Registry{
		reconnectDelay: reconnectDelay,
		readTimeout:    readTimeout,
		protocolFor:    ForExchange,
		streams:        make(map[Key]*SharedStream),
	}
}

// SetProtocolFactory overrides venue selection. Tests use it to point
// streams at local websocket servers.
func (r *Registry) SetProtocolFactory(f func(Key) (Protocol, error)) {
	r.protocolFor = f
}

// HasProtocol reports whether a streaming protocol exists for key's
// venue. Bots without one fall back to price polling.
func (r *Registry) HasProtocol(key Key) bool {
	_, err := r.protocolFor(key)
	return err == nil
}

// Acquire subscribes sub to the stream for key, starting it if needed.
func (r *Registry) Acquire(key Key, sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[key]
	if !ok {
		proto, err := r.protocolFor(key)
		if err != nil {
			return fmt.Errorf("acquire stream %s: %w", key, err)
		}
		s = newSharedStream(key, proto, r.reconnectDelay, r.readTimeout)
		s.start()
		r.streams[key] = s
		log.Printf("stream %s: started", key)
	}
	s.subscribe(sub)
	return nil
}

// Release detaches a subscriber. The last one out stops the connection.
func (r *Registry) Release(key Key, subscriberID string) {
	r.mu.Lock()
	s, ok := r.streams[key]
	if ok && s.unsubscribe(subscriberID) == 0 {
		delete(r.streams, key)
	} else {
		s = nil
	}
	r.mu.Unlock()

	// Stop outside the lock; it blocks until the read loop exits.
	if s != nil {
		s.stop()
		log.Printf("stream %s: stopped (no subscribers)", key)
	}
}

// ActiveKeys snapshots the currently connected stream keys.
func (r *Registry) ActiveKeys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]Key, 0, len(r.streams))
	for k := range r.streams {
		keys = append(keys, k)
	}
	return keys
}

// SubscriberCount reports how many bots share the stream for key.
func (r *Registry) SubscriberCount(key Key) int {
	r.mu.Lock()
	s, ok := r.streams[key]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return s.subscriberCount()
}

// StopAll shuts every stream down. Called after all bots have stopped,
// so any stream still here belongs to a bot that failed to release.
func (r *Registry) StopAll() {
	r.mu.Lock()
	streams := make([]*SharedStream, 0, len(r.streams))
	for k, s := range r.streams {
		streams = append(streams, s)
		delete(r.streams, k)
	}
	r.mu.Unlock()

	for _, s := range streams {
		s.stop()
	}
}
