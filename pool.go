package flick

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// ConnectionPool manages reusable connections keyed by server profile,
// allowing the presentation layer to reuse an authenticated session across
// listings and transfers instead of re-running the auth chain each time.
type ConnectionPool struct {
	mu          sync.RWMutex
	connections map[string]*pooledConnection
	opts        Options
	maxIdle     time.Duration
	done        chan struct{}
}

type pooledConnection struct {
	conn     *Connection
	lastUsed time.Time
	inUse    int // reference count
}

// NewConnectionPool creates a new connection pool. maxIdle specifies how
// long idle connections are kept before being closed; zero or negative
// values fall back to five minutes. opts applies to every connection the
// pool establishes.
func NewConnectionPool(maxIdle time.Duration, opts Options) *ConnectionPool {
	if maxIdle <= 0 {
		maxIdle = 5 * time.Minute
	}
	pool := &ConnectionPool{
		connections: make(map[string]*pooledConnection),
		opts:        opts,
		maxIdle:     maxIdle,
		done:        make(chan struct{}),
	}

	go pool.cleanupLoop()

	return pool
}

// GetOrCreate gets an existing connection for the profile or establishes a
// new one. The caller must call Release() when done with the connection.
func (p *ConnectionPool) GetOrCreate(profile ServerProfile) (*Connection, error) {
	key := p.connectionKey(profile)

	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.connections[key]; ok {
		if pc.conn.IsHealthy() {
			pc.inUse++
			pc.lastUsed = time.Now()
			return pc.conn, nil
		}
		pc.conn.Close()
		delete(p.connections, key)
	}

	conn, err := Connect(profile, p.opts)
	if err != nil {
		return nil, err
	}

	p.connections[key] = &pooledConnection{
		conn:     conn,
		lastUsed: time.Now(),
		inUse:    1,
	}

	return conn, nil
}

// Release returns a connection to the pool.
func (p *ConnectionPool) Release(profile ServerProfile) {
	key := p.connectionKey(profile)

	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.connections[key]; ok {
		pc.inUse--
		if pc.inUse < 0 {
			pc.inUse = 0
		}
		pc.lastUsed = time.Now()
	}
}

// Close closes all connections in the pool and stops the cleanup goroutine.
func (p *ConnectionPool) Close() {
	close(p.done)

	p.mu.Lock()
	defer p.mu.Unlock()

	for key, pc := range p.connections {
		if pc.conn != nil {
			pc.conn.Close()
		}
		delete(p.connections, key)
	}
}

// CloseIdle closes connections that have been idle for longer than maxIdle.
func (p *ConnectionPool) CloseIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for key, pc := range p.connections {
		if pc.inUse == 0 && now.Sub(pc.lastUsed) > p.maxIdle {
			if pc.conn != nil {
				pc.conn.Close()
			}
			delete(p.connections, key)
		}
	}
}

// Stats returns current pool statistics.
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var inUse, idle int
	for _, pc := range p.connections {
		if pc.inUse > 0 {
			inUse++
		} else {
			idle++
		}
	}

	return PoolStats{
		Total: len(p.connections),
		InUse: inUse,
		Idle:  idle,
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Total int
	InUse int
	Idle  int
}

func (p *ConnectionPool) connectionKey(profile ServerProfile) string {
	h := sha256.New()

	h.Write([]byte(profile.Host))
	fmt.Fprintf(h, ":%d:", profile.Port)
	h.Write([]byte(profile.User))

	if profile.Password != "" {
		h.Write([]byte(":password:"))
		h.Write([]byte(profile.Password))
	}
	if profile.KeyPath != "" {
		h.Write([]byte(":keypath:"))
		h.Write([]byte(profile.KeyPath))
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (p *ConnectionPool) cleanupLoop() {
	ticker := time.NewTicker(p.maxIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.CloseIdle()
		case <-p.done:
			return
		}
	}
}
