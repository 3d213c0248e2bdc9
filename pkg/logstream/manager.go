// Package logstream maps logical stream names to lazily-created physical
// streams.
//
// The segment layer addresses streams by name; the substrate only knows
// numeric ids. A Manager owns that mapping: looking up an unseen name
// yields a LazyStream bound to no physical stream until first use, and a
// recovered broker seeds the Manager with its checkpointed name→id map so
// those streams reopen eagerly. Metadata changes fan out to at most one
// registered Listener.
package logstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/snehjoshi/estream/pkg/api"
)

// ErrManagerClosed is returned by GetStream after Close.
var ErrManagerClosed = errors.New("logstream: manager closed")

// Manager owns the name→stream mapping for one writer session. Replica
// count and epoch apply uniformly to every stream it creates or reopens.
type Manager struct {
	client       api.Client
	replicaCount int
	epoch        int64
	log          *zap.Logger

	mu      sync.RWMutex
	streams map[string]*LazyStream
	closed  bool

	listener atomic.Pointer[listenerSlot]
}

// NewManager builds a manager seeded with initial name→physical-id entries.
// Each seeded stream reopens eagerly through the resilient client; the
// opens resolve in the background and cannot fail short of client shutdown.
func NewManager(client api.Client, replicaCount int, epoch int64, initial map[string]int64, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		client:       client,
		replicaCount: replicaCount,
		epoch:        epoch,
		log:          logger,
		streams:      make(map[string]*LazyStream, len(initial)),
	}
	for name, id := range initial {
		m.streams[name] = m.reopen(name, id)
	}
	return m
}

// reopen seeds a LazyStream whose physical stream already exists.
func (m *Manager) reopen(name string, id int64) *LazyStream {
	s := &LazyStream{name: name, m: m}
	f := m.client.StreamClient().OpenStream(id, api.OpenStreamOptions{Epoch: m.epoch})
	s.ready = f
	f.WhenComplete(nil, func(st api.Stream, err error) {
		if err != nil {
			m.log.Error("reopen abandoned, client closed",
				zap.String("name", name),
				zap.Int64("stream", id),
				zap.Error(err),
			)
			return
		}
		s.bind(st)
		m.emit(MetaEvent{Type: EventStreamOpened, StreamID: st.ID(), Name: name, Epoch: m.epoch})
	})
	return s
}

// GetStream returns the stream for name, constructing an unbound LazyStream
// on first access. Construction and insertion are atomic per name: however
// many callers race on the same unseen name, exactly one LazyStream ever
// exists for it.
func (m *Manager) GetStream(name string) (*LazyStream, error) {
	m.mu.RLock()
	s, ok := m.streams[name]
	closed := m.closed
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if closed {
		return nil, fmt.Errorf("get stream %q: %w", name, ErrManagerClosed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("get stream %q: %w", name, ErrManagerClosed)
	}
	if s, ok := m.streams[name]; ok {
		return s, nil
	}
	s = &LazyStream{name: name, m: m}
	m.streams[name] = s
	return s, nil
}

// Streams returns a snapshot of the managed streams.
func (m *Manager) Streams() []*LazyStream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*LazyStream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	return out
}

// SetListener registers the single external listener. Passing nil removes
// the current one; a later call replaces it.
func (m *Manager) SetListener(l Listener) {
	if l == nil {
		m.listener.Store(nil)
		return
	}
	m.listener.Store(&listenerSlot{l: l})
}

func (m *Manager) emit(ev MetaEvent) {
	slot := m.listener.Load()
	if slot == nil {
		return
	}
	slot.l.OnEvent(ev.StreamID, ev)
}

// Close closes every managed stream and rejects further GetStream calls.
// It waits for each close to resolve or ctx to expire, returning the first
// error either way.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	streams := make([]*LazyStream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	var firstErr error
	for _, s := range streams {
		if _, err := s.Close().Get(ctx); err != nil {
			m.log.Error("stream close failed",
				zap.String("name", s.Name()),
				zap.Int64("stream", s.ID()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
