// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package substrate

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// maxDatagramSize is the largest datagram read from a socket.
const maxDatagramSize = 65535

// UDP is a Substrate on a single UDP socket, used for all peers.
type UDP struct {
	conn *net.UDPConn

	stopAck  chan struct{}
	started  atomic.Bool
	finished atomic.Bool
}

// ListenUDP binds a UDP socket, e.g., to ":35039" or "127.0.0.1:0".
func ListenUDP(address string) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	return &UDP{
		conn:    conn,
		stopAck: make(chan struct{}),
	}, nil
}

func (u *UDP) String() string {
	return fmt.Sprintf("udp://%v", u.conn.LocalAddr())
}

// LocalAddr of the bound socket.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) log() *log.Entry {
	return log.WithField("substrate", u.String())
}

// Start the receiving goroutine.
func (u *UDP) Start(handler Handler) error {
	if u.finished.Load() {
		return ErrClosed
	}
	if !u.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%v was already started", u)
	}

	go u.handle(handler)
	return nil
}

func (u *UDP) handle(handler Handler) {
	defer close(u.stopAck)

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := u.conn.ReadFrom(buf)
		if err != nil {
			if u.finished.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			u.log().WithError(err).Warn("Reading datagram errored")
			continue
		}

		handler(buf[:n], src)
	}
}

// Send a datagram to a UDP address.
func (u *UDP) Send(b []byte, dst net.Addr) error {
	if u.finished.Load() {
		return ErrClosed
	}

	_, err := u.conn.WriteTo(b, dst)
	return err
}

// Close the socket and wait for the receiving goroutine, if started.
func (u *UDP) Close() error {
	if !u.finished.CompareAndSwap(false, true) {
		return ErrClosed
	}

	err := u.conn.Close()
	if u.started.Load() {
		<-u.stopAck
	}
	return err
}
