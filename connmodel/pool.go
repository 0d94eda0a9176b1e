package connmodel

// A Pool holds the simulated connections of one estimation run, keyed by the
// connection identifier recorded in the trace. Requests that repeat an
// identifier reuse the same connection object, so warm state and the residual
// congestion window carry across sequential fetches, which models persistent
// HTTP connections. Each run owns its pool exclusively; pools are never
// shared between runs.
type Pool struct {
	rtt        float64
	throughput float64

	connections map[string]*TCPConnection
	active      map[string]bool
}

// NewPool creates an empty pool. New connections are created with the given
// round-trip time (ms) and throughput (bits/s).
func NewPool(rttMs, throughputBps float64) *Pool {
	return &Pool{
		rtt:         rttMs,
		throughput:  throughputBps,
		connections: make(map[string]*TCPConnection),
		active:      make(map[string]bool),
	}
}

// Acquire returns the connection for the given identifier, creating a cold
// one on first use. It reports false without acquiring when the connection is
// already serving another request; a connection carries one request at a
// time.
func (p *Pool) Acquire(id string, ssl bool, serverLatencyMs float64) (*TCPConnection, bool) {
	if p.active[id] {
		return nil, false
	}

	conn, ok := p.connections[id]
	if !ok {
		conn = NewTCPConnection(p.rtt, p.throughput, serverLatencyMs, ssl)
		p.connections[id] = conn
	} else {
		conn.SetServerLatency(serverLatencyMs)
	}

	p.active[id] = true

	return conn, true
}

// Release returns the connection to the pool once its request completes.
func (p *Pool) Release(id string) {
	delete(p.active, id)
}

// NumActive returns how many connections are currently serving a request.
func (p *Pool) NumActive() int {
	return len(p.active)
}
