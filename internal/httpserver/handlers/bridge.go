package handlers

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MrSnakeDoc/linktags/internal/bus"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/mw"
	"github.com/MrSnakeDoc/linktags/internal/logger"
)

const (
	bridgeWriteWait      = 10 * time.Second
	bridgePongWait       = 60 * time.Second
	bridgePingPeriod     = 30 * time.Second
	bridgeMaxMessageSize = 512 * 1024
	bridgeSendBuffer     = 64
	bridgeMaxEchoes      = 256
)

// Bridge upgrades to a websocket and relays frames between the connected
// peer and the message bus in both directions. Frames the peer published
// itself are not echoed back to it.
func Bridge(d deps.Deps) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(d.AllowedHosts),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.Logger.Warn("websocket upgrade failed", logger.Error(err))
			return
		}

		p := &bridgePeer{
			conn:   conn,
			bus:    d.Bus,
			send:   make(chan []byte, bridgeSendBuffer),
			echoes: make(map[string]int),
			log:    d.Logger.With(logger.String("peer", uuid.NewString())),
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		unsub, err := d.Bus.Subscribe(ctx, p.deliver)
		if err != nil {
			p.log.Error("bridge failed to subscribe to bus", logger.Error(err))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "bus unavailable"),
				time.Now().Add(bridgeWriteWait))
			_ = conn.Close()
			return
		}
		defer unsub()

		p.log.Info("bridge peer connected", logger.String("remote_ip", r.RemoteAddr))
		done := make(chan struct{})
		go func() {
			defer close(done)
			p.writePump(ctx)
		}()
		p.readPump(ctx)
		cancel()
		<-done
		p.log.Info("bridge peer disconnected")
	}
}

// originChecker accepts requests without an Origin header, same-host
// origins and origins matching allowedHosts.
func originChecker(allowedHosts []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Host == r.Host {
			return true
		}
		return len(allowedHosts) > 0 && mw.HostAllowed(u.Host, allowedHosts)
	}
}

type bridgePeer struct {
	conn *websocket.Conn
	bus  bus.Bus
	send chan []byte
	log  logger.Logger

	mu     sync.Mutex
	echoes map[string]int // frames published by this peer, not yet seen back
}

// deliver queues a bus frame for the peer. A slow peer loses frames
// rather than stalling the bus.
func (p *bridgePeer) deliver(frame []byte) {
	if p.consumeEcho(frame) {
		return
	}
	select {
	case p.send <- frame:
	default:
		p.log.Warn("bridge peer too slow, frame dropped")
	}
}

func (p *bridgePeer) rememberEcho(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.echoes) >= bridgeMaxEchoes {
		clear(p.echoes)
	}
	p.echoes[string(frame)]++
}

func (p *bridgePeer) consumeEcho(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := string(frame)
	n := p.echoes[key]
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(p.echoes, key)
	} else {
		p.echoes[key] = n - 1
	}
	return true
}

// writePump is the only writer on the connection.
func (p *bridgePeer) writePump(ctx context.Context) {
	ticker := time.NewTicker(bridgePingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case frame := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = p.conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
			_ = p.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump publishes every frame the peer sends until the connection ends.
func (p *bridgePeer) readPump(ctx context.Context) {
	p.conn.SetReadLimit(bridgeMaxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(bridgePongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(bridgePongWait))
	})

	for {
		messageType, frame, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.log.Warn("bridge read failed", logger.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		p.rememberEcho(frame)
		if err := p.bus.Publish(ctx, frame); err != nil {
			p.consumeEcho(frame)
			p.log.Warn("bridge failed to publish frame", logger.Error(err))
		}
	}
}
