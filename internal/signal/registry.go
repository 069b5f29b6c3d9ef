package signal

import (
	"sync"

	"github.com/gorilla/websocket"
)

// peerConn is one registered endpoint connection on the relay server.
type peerConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peerConn) send(env Envelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(env)
}

// Registry maps live peer ids to their connections. A peer id can be held by
// at most one connection; a second claim is a conflict and the newcomer loses.
type Registry struct {
	mu    sync.Mutex
	peers map[string]*peerConn
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*peerConn)}
}

// Register claims id for conn. Returns false if another live connection
// already holds the id.
func (r *Registry) Register(id string, conn *websocket.Conn) (*peerConn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.peers[id]; taken {
		return nil, false
	}
	p := &peerConn{id: id, conn: conn}
	r.peers[id] = p
	return p, true
}

// Unregister releases id, but only if it is still bound to p. This guards
// against a slow-closing connection releasing a successor's registration.
func (r *Registry) Unregister(p *peerConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.peers[p.id]; ok && cur == p {
		delete(r.peers, p.id)
	}
}

// Lookup returns the connection holding id, if any.
func (r *Registry) Lookup(id string) (*peerConn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	return p, ok
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
