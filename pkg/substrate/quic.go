// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package substrate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnlink/pkg/substrate/internal"
)

// QUIC is a Substrate sending unreliable QUIC datagrams (RFC 9221). It might listen for connections and dial them.
type QUIC struct {
	address  string
	listener *quic.Listener

	handler      Handler
	handlerReady atomic.Bool

	mutex sync.RWMutex
	conns map[string]quic.Connection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	finished atomic.Bool
}

func newQUIC(address string) *QUIC {
	ctx, cancel := context.WithCancel(context.Background())
	return &QUIC{
		address: address,
		conns:   make(map[string]quic.Connection),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// NewQUIC creates a dial-only QUIC Substrate.
func NewQUIC() *QUIC {
	return newQUIC("")
}

// ListenQUIC creates a QUIC Substrate accepting connections on an UDP address.
func ListenQUIC(address string) (*QUIC, error) {
	tlsConf, err := internal.GenerateListenerTLSConfig()
	if err != nil {
		return nil, err
	}

	listener, err := quic.ListenAddr(address, tlsConf, internal.GenerateQUICConfig())
	if err != nil {
		return nil, err
	}

	q := newQUIC(address)
	q.listener = listener
	return q, nil
}

func (q *QUIC) String() string {
	if q.listener != nil {
		return fmt.Sprintf("quic://%v", q.listener.Addr())
	}
	return "quic"
}

func (q *QUIC) log() *log.Entry {
	return log.WithField("substrate", q.String())
}

// LocalAddr of the listener, or nil for a dial-only QUIC Substrate.
func (q *QUIC) LocalAddr() net.Addr {
	if q.listener == nil {
		return nil
	}
	return q.listener.Addr()
}

// Start accepting connections, if listening, and reading datagrams.
func (q *QUIC) Start(handler Handler) error {
	if q.finished.Load() {
		return ErrClosed
	}

	q.handler = handler
	q.handlerReady.Store(true)

	if q.listener != nil {
		q.wg.Add(1)
		go q.handleAccept()
	}
	return nil
}

func (q *QUIC) handleAccept() {
	defer q.wg.Done()

	q.log().Info("Listening for QUIC connections")

	for {
		conn, err := q.listener.Accept(q.ctx)
		if err != nil {
			if q.finished.Load() || errors.Is(err, quic.ErrServerClosed) || errors.Is(err, context.Canceled) {
				return
			}

			q.log().WithError(err).Warn("Accepting QUIC connection errored")
			continue
		}

		q.log().WithField("peer", conn.RemoteAddr()).Info("Accepted QUIC connection")
		q.add(conn)
	}
}

// Dial a QUIC listener. The returned address identifies the peer for Send.
func (q *QUIC) Dial(ctx context.Context, address string) (net.Addr, error) {
	if !q.handlerReady.Load() {
		return nil, fmt.Errorf("%v was not started", q)
	}

	conn, err := quic.DialAddr(ctx, address, internal.GenerateDialerTLSConfig(), internal.GenerateQUICConfig())
	if err != nil {
		return nil, err
	}
	if !conn.ConnectionState().SupportsDatagrams {
		_ = conn.CloseWithError(internal.ApplicationShutdown, "datagrams are required")
		return nil, fmt.Errorf("peer %s does not support QUIC datagrams", address)
	}

	if !q.add(conn) {
		return nil, ErrClosed
	}

	q.log().WithField("peer", conn.RemoteAddr()).Debug("Dialed successfully")
	return conn.RemoteAddr(), nil
}

func (q *QUIC) add(conn quic.Connection) bool {
	key := conn.RemoteAddr().String()

	q.mutex.Lock()
	if q.finished.Load() {
		q.mutex.Unlock()
		_ = conn.CloseWithError(internal.ApplicationShutdown, "substrate is closed")
		return false
	}
	if old, exists := q.conns[key]; exists {
		_ = old.CloseWithError(internal.ApplicationShutdown, "replaced by a new connection")
	}
	q.conns[key] = conn
	q.wg.Add(1)
	q.mutex.Unlock()

	go q.handleIn(conn)
	return true
}

func (q *QUIC) handleIn(conn quic.Connection) {
	defer q.wg.Done()

	logger := q.log().WithField("peer", conn.RemoteAddr())

	for {
		data, err := conn.ReceiveDatagram(q.ctx)
		if err != nil {
			if !q.finished.Load() {
				logger.WithError(err).Info("QUIC connection closed")
			}

			q.mutex.Lock()
			if q.conns[conn.RemoteAddr().String()] == conn {
				delete(q.conns, conn.RemoteAddr().String())
			}
			q.mutex.Unlock()
			return
		}

		q.handler(data, conn.RemoteAddr())
	}
}

// Send a datagram over the connection to dst.
func (q *QUIC) Send(b []byte, dst net.Addr) error {
	if q.finished.Load() {
		return ErrClosed
	}

	q.mutex.RLock()
	conn, ok := q.conns[dst.String()]
	q.mutex.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownPeer, dst)
	}
	return conn.SendDatagram(b)
}

// Close all connections and the listener.
func (q *QUIC) Close() error {
	if !q.finished.CompareAndSwap(false, true) {
		return ErrClosed
	}

	var errs error

	q.mutex.Lock()
	for _, conn := range q.conns {
		if err := conn.CloseWithError(internal.ApplicationShutdown, "substrate is closed"); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	q.mutex.Unlock()

	if q.listener != nil {
		if err := q.listener.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	q.cancel()
	q.wg.Wait()
	return errs
}
