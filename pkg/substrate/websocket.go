// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package substrate

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// webSocketConn is one WebSocket connection, carrying one datagram per binary message.
type webSocketConn struct {
	conn *websocket.Conn
	addr net.Addr

	// writeMutex serializes writers, as a *websocket.Conn supports only one concurrent writer.
	writeMutex sync.Mutex
}

func (wc *webSocketConn) write(b []byte) error {
	wc.writeMutex.Lock()
	defer wc.writeMutex.Unlock()

	return wc.conn.WriteMessage(websocket.BinaryMessage, b)
}

// WebSocket is a Substrate over WebSocket connections. It accepts connections as a http.Handler and dials them by
// Dial. Each peer is identified by its connection's remote address.
type WebSocket struct {
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	handler      Handler
	handlerReady atomic.Bool

	mutex sync.RWMutex
	conns map[string]*webSocketConn

	wg       sync.WaitGroup
	finished atomic.Bool
}

// NewWebSocket creates a WebSocket Substrate without any connections.
func NewWebSocket() *WebSocket {
	return &WebSocket{
		upgrader: websocket.Upgrader{},
		dialer:   websocket.DefaultDialer,
		conns:    make(map[string]*webSocketConn),
	}
}

func (ws *WebSocket) String() string {
	return "websocket"
}

func (ws *WebSocket) log() *log.Entry {
	return log.WithField("substrate", ws.String())
}

// Start accepting and reading connections.
func (ws *WebSocket) Start(handler Handler) error {
	if ws.finished.Load() {
		return ErrClosed
	}

	ws.handler = handler
	ws.handlerReady.Store(true)
	return nil
}

// ServeHTTP upgrades a HTTP connection to a WebSocket connection, used as a datagram pipe.
func (ws *WebSocket) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if !ws.handlerReady.Load() || ws.finished.Load() {
		http.Error(writer, "substrate is not ready", http.StatusServiceUnavailable)
		return
	}

	if conn, err := ws.upgrader.Upgrade(writer, request, nil); err != nil {
		ws.log().WithError(err).Warn("Upgrading connection errored")
	} else {
		ws.add(conn)
	}
}

// Dial a remote WebSocket endpoint, e.g., "ws://example.org:8080/link". The returned address identifies the peer for
// Send.
func (ws *WebSocket) Dial(url string) (net.Addr, error) {
	if !ws.handlerReady.Load() {
		return nil, fmt.Errorf("%v was not started", ws)
	}

	conn, _, err := ws.dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	wc := ws.add(conn)
	if wc == nil {
		return nil, ErrClosed
	}

	ws.log().WithFields(log.Fields{
		"url":  url,
		"peer": wc.addr,
	}).Debug("Dialed successfully")
	return wc.addr, nil
}

func (ws *WebSocket) add(conn *websocket.Conn) *webSocketConn {
	wc := &webSocketConn{
		conn: conn,
		addr: conn.RemoteAddr(),
	}

	ws.mutex.Lock()
	if ws.finished.Load() {
		ws.mutex.Unlock()
		_ = conn.Close()
		return nil
	}
	if old, exists := ws.conns[wc.addr.String()]; exists {
		_ = old.conn.Close()
	}
	ws.conns[wc.addr.String()] = wc
	ws.wg.Add(1)
	ws.mutex.Unlock()

	go ws.handleIn(wc)
	return wc
}

func (ws *WebSocket) remove(wc *webSocketConn) {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if ws.conns[wc.addr.String()] == wc {
		delete(ws.conns, wc.addr.String())
	}
}

func (ws *WebSocket) handleIn(wc *webSocketConn) {
	defer ws.wg.Done()
	defer ws.remove(wc)

	logger := ws.log().WithField("peer", wc.addr)

	for {
		mt, data, err := wc.conn.ReadMessage()
		if err != nil {
			if !ws.finished.Load() {
				logger.WithError(err).Info("WebSocket connection closed")
			}
			_ = wc.conn.Close()
			return
		}

		if mt != websocket.BinaryMessage {
			logger.WithField("type", mt).Debug("Ignoring non-binary WebSocket message")
			continue
		}

		ws.handler(data, wc.addr)
	}
}

// Send a datagram over the connection to dst.
func (ws *WebSocket) Send(b []byte, dst net.Addr) error {
	if ws.finished.Load() {
		return ErrClosed
	}

	ws.mutex.RLock()
	wc, ok := ws.conns[dst.String()]
	ws.mutex.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownPeer, dst)
	}
	return wc.write(b)
}

// Close all connections and wait for their goroutines.
func (ws *WebSocket) Close() error {
	if !ws.finished.CompareAndSwap(false, true) {
		return ErrClosed
	}

	var errs error

	ws.mutex.Lock()
	for _, wc := range ws.conns {
		if err := wc.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierror.Append(errs, err)
		}
	}
	ws.mutex.Unlock()

	ws.wg.Wait()
	return errs
}
