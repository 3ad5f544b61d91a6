package bridge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sit-app/sit/internal/syncchannel"
)

const peerWriteWait = 10 * time.Second

// PeerLink is the phone-side syncchannel.Transport: it writes to whichever
// watch connection is currently registered. One watch at a time; a new
// registration displaces the old connection.
type PeerLink struct {
	mu   sync.Mutex
	conn *websocket.Conn

	// onReachability fires outside the lock whenever the link comes up or
	// goes down.
	onReachability func(bool)
}

// NewPeerLink creates an unconnected link.
func NewPeerLink() *PeerLink {
	return &PeerLink{}
}

// SetReachabilityHandler registers the reachability callback. Must be called
// before the server starts accepting connections.
func (l *PeerLink) SetReachabilityHandler(fn func(bool)) {
	l.onReachability = fn
}

// Register installs conn as the active watch connection, closing any
// previous one.
func (l *PeerLink) Register(conn *websocket.Conn) {
	l.mu.Lock()
	old := l.conn
	l.conn = conn
	l.mu.Unlock()
	if old != nil {
		old.Close()
	}
	if l.onReachability != nil {
		l.onReachability(true)
	}
}

// Unregister drops conn if it is still the active connection.
func (l *PeerLink) Unregister(conn *websocket.Conn) {
	l.mu.Lock()
	active := l.conn == conn
	if active {
		l.conn = nil
	}
	l.mu.Unlock()
	if active && l.onReachability != nil {
		l.onReachability(false)
	}
}

// Send writes one envelope to the registered watch.
func (l *PeerLink) Send(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return syncchannel.ErrPeerUnreachable
	}
	l.conn.SetWriteDeadline(time.Now().Add(peerWriteWait))
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// Reachable reports whether a watch is currently connected.
func (l *PeerLink) Reachable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}
