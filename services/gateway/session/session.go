// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session manages implicit MCP sessions: creation on initialize,
// TTL-based expiry with a background prune loop, and the per-session set of
// SSE connections. The store owns each connection's close signal so deleting
// or expiring a session terminates its streams; the transport owns the
// keep-alive timer and the actual writes.
//
// Thread Safety:
//
//	Store and Conn are safe for concurrent use.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/ModelForge/services/gateway/config"
	"github.com/AleutianAI/ModelForge/services/gateway/observability"
)

var (
	// ErrNotFound signals an unknown or already pruned session id.
	ErrNotFound = errors.New("session not found")

	// ErrExpired signals the session outlived its TTL.
	ErrExpired = errors.New("session expired")

	// ErrTooManySSE signals the per-session SSE cap is reached.
	ErrTooManySSE = errors.New("too many SSE connections")
)

// Message is one server-initiated SSE payload.
type Message struct {
	Event string
	Data  string
}

// Conn is one live SSE stream bound to a session.
type Conn struct {
	// SessionID names the owning session.
	SessionID string

	send   chan Message
	closed chan struct{}
	once   sync.Once
}

// Send queues a message for the stream. Returns false when the connection is
// closed or its buffer is full; SSE delivery is best-effort.
func (c *Conn) Send(msg Message) bool {
	if c.IsClosed() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Messages is the transport's read side of Send.
func (c *Conn) Messages() <-chan Message { return c.send }

// Closed is closed when the stream must terminate.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// Close signals termination. Idempotent.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.closed) })
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Session is one implicit MCP session.
type Session struct {
	ID              string
	ProtocolVersion string
	CreatedAt       time.Time

	lastSeen time.Time
	conns    map[*Conn]struct{}
}

// Store tracks live sessions.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      config.SessionConfig
	metrics  *observability.Metrics
	log      *slog.Logger
	now      func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// NewStore builds a session store. metrics may be nil.
func NewStore(cfg config.SessionConfig, metrics *observability.Metrics, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// newID mints a 128-bit random hex session id.
func newID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to time.
		return hex.EncodeToString([]byte(time.Now().String()))[:32]
	}
	return hex.EncodeToString(buf[:])
}

// Create registers a new session pinned to protocolVersion.
func (s *Store) Create(protocolVersion string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{
		ID:              newID(),
		ProtocolVersion: protocolVersion,
		CreatedAt:       s.now(),
		lastSeen:        s.now(),
		conns:           make(map[*Conn]struct{}),
	}
	s.sessions[sess.ID] = sess
	s.metrics.SetActiveSessions(len(s.sessions))
	return sess
}

// Get returns the live session for id and renews its TTL.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.now().Sub(sess.lastSeen) > s.cfg.TTL {
		s.dropLocked(sess)
		return nil, ErrExpired
	}
	sess.lastSeen = s.now()
	return sess, nil
}

// Delete removes a session and closes every SSE stream it owns. Removing an
// unknown id is not an error.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		s.dropLocked(sess)
	}
}

// dropLocked removes a session, telling each open stream to end. A final
// close event goes out best-effort before the close signal.
func (s *Store) dropLocked(sess *Session) {
	for conn := range sess.conns {
		conn.Send(Message{Event: "close", Data: "session closed"})
		conn.Close()
	}
	sess.conns = make(map[*Conn]struct{})
	delete(s.sessions, sess.ID)
	s.metrics.SetActiveSessions(len(s.sessions))
	s.metrics.SetActiveSSE(s.totalSSELocked())
}

// Len returns the live session count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// OpenSSE registers a new stream on the session, enforcing the cap. The
// returned Conn's Closed channel fires when the session is deleted or pruned.
func (s *Store) OpenSSE(id string) (*Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if len(sess.conns) >= s.cfg.MaxSSEConnections {
		return nil, ErrTooManySSE
	}
	conn := &Conn{
		SessionID: id,
		send:      make(chan Message, 8),
		closed:    make(chan struct{}),
	}
	sess.conns[conn] = struct{}{}
	s.metrics.SetActiveSSE(s.totalSSELocked())
	return conn, nil
}

// CloseSSE closes a stream and frees its slot. Safe to call after the
// session is gone.
func (s *Store) CloseSSE(conn *Conn) {
	conn.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[conn.SessionID]; ok {
		delete(sess.conns, conn)
	}
	s.metrics.SetActiveSSE(s.totalSSELocked())
}

func (s *Store) totalSSELocked() int {
	n := 0
	for _, sess := range s.sessions {
		n += len(sess.conns)
	}
	return n
}

// Start launches the background prune loop.
func (s *Store) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.prune()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop terminates the prune loop.
func (s *Store) Stop() {
	close(s.done)
	s.wg.Wait()
}

// prune drops sessions past their TTL, closing their streams.
func (s *Store) prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.cfg.TTL)
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			s.dropLocked(sess)
			s.log.Debug("session pruned", "session", id)
		}
	}
	s.metrics.SetActiveSessions(len(s.sessions))
	s.metrics.SetActiveSSE(s.totalSSELocked())
}
