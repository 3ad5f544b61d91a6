package syncchannel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Websocket link tuning. The phone end pings; the watch end answers pongs
// and treats a silent link as down after readWait.
const (
	writeWait       = 10 * time.Second
	readWait        = 90 * time.Second
	initialRedial   = 2 * time.Second
	maxRedial       = time.Minute
	maxMessageBytes = 1 << 20
)

// WSTransport is the watch end of the peer link: it dials the phone bridge,
// redials with backoff when the link drops, and reports reachability changes
// so the caller can flush the channel and drain the response queue.
type WSTransport struct {
	url       string
	pairToken string
	dialer    *websocket.Dialer

	onMessage      func([]byte)
	onReachability func(bool)

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSTransport creates a transport dialing the given ws:// URL with the
// given pairing token.
func NewWSTransport(url, pairToken string) *WSTransport {
	return &WSTransport{
		url:       url,
		pairToken: pairToken,
		dialer:    websocket.DefaultDialer,
	}
}

// SetHandlers registers the inbound message callback and the reachability
// callback. Must be called before Run.
func (t *WSTransport) SetHandlers(onMessage func([]byte), onReachability func(bool)) {
	t.onMessage = onMessage
	t.onReachability = onReachability
}

// Run dials and re-dials the phone bridge until the context is cancelled.
// Blocks; run it on its own goroutine.
func (t *WSTransport) Run(ctx context.Context) {
	wait := initialRedial
	for {
		connected, err := t.connectAndRead(ctx)
		if connected {
			// A link that was up earns a fresh backoff schedule.
			wait = initialRedial
		}
		if err != nil {
			slog.Debug("WSTransport.Run: link down", "error", err, "redialIn", wait)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxRedial {
			wait = maxRedial
		}
	}
}

func (t *WSTransport) connectAndRead(ctx context.Context) (bool, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.url+"?token="+t.pairToken, nil)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	slog.Info("WSTransport.connectAndRead: peer link up", "url", t.url)
	if t.onReachability != nil {
		t.onReachability(true)
	}

	defer func() {
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		conn.Close()
		slog.Info("WSTransport.connectAndRead: peer link down")
		if t.onReachability != nil {
			t.onReachability(false)
		}
	}()

	conn.SetReadLimit(maxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		t.mu.Lock()
		defer t.mu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(readWait))
		if t.onMessage != nil {
			t.onMessage(data)
		}
	}
}

// Send writes one envelope if the link is up.
func (t *WSTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrPeerUnreachable
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Reachable reports whether the peer link is currently up.
func (t *WSTransport) Reachable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}
