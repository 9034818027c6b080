// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package substrate

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type received struct {
	data []byte
	src  net.Addr
}

func collector() (Handler, <-chan received) {
	ch := make(chan received, 64)
	return func(datagram []byte, src net.Addr) {
		data := make([]byte, len(datagram))
		copy(data, datagram)
		ch <- received{data, src}
	}, ch
}

// awaitDatagram resends a datagram until it arrives, as substrates are unreliable.
func awaitDatagram(t *testing.T, send func() error, ch <-chan received, expected []byte) received {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		if err := send(); err != nil {
			t.Fatal(err)
		}

		select {
		case r := <-ch:
			if !bytes.Equal(r.data, expected) {
				t.Fatalf("received %x, expected %x", r.data, expected)
			}
			return r

		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("no datagram arrived")
		}
	}
}

func TestUDP(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	b, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	handlerA, chA := collector()
	handlerB, chB := collector()
	if err := a.Start(handlerA); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(handlerB); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(handlerA); err == nil {
		t.Fatal("starting twice succeeded")
	}

	ping, pong := []byte("ping"), []byte("pong")

	r := awaitDatagram(t, func() error { return a.Send(ping, b.LocalAddr()) }, chB, ping)
	if r.src.String() != a.LocalAddr().String() {
		t.Fatalf("source %v, expected %v", r.src, a.LocalAddr())
	}
	awaitDatagram(t, func() error { return b.Send(pong, r.src) }, chA, pong)

	for _, u := range []*UDP{a, b} {
		if err := u.Close(); err != nil {
			t.Fatal(err)
		}
		if err := u.Close(); !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	}

	if err := a.Send(ping, b.LocalAddr()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestWebSocket(t *testing.T) {
	server := NewWebSocket()
	handlerServer, chServer := collector()
	if err := server.Start(handlerServer); err != nil {
		t.Fatal(err)
	}

	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	client := NewWebSocket()
	handlerClient, chClient := collector()

	if _, err := client.Dial("ws" + strings.TrimPrefix(httpServer.URL, "http")); err == nil {
		t.Fatal("dialing an unstarted substrate succeeded")
	}
	if err := client.Start(handlerClient); err != nil {
		t.Fatal(err)
	}

	peer, err := client.Dial("ws" + strings.TrimPrefix(httpServer.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}

	ping, pong := []byte("ping"), []byte("pong")

	r := awaitDatagram(t, func() error { return client.Send(ping, peer) }, chServer, ping)
	awaitDatagram(t, func() error { return server.Send(pong, r.src) }, chClient, pong)

	if err := client.Send(ping, &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 1}); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if err := server.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestQUIC(t *testing.T) {
	server, err := ListenQUIC("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	handlerServer, chServer := collector()
	if err := server.Start(handlerServer); err != nil {
		t.Fatal(err)
	}

	client := NewQUIC()
	handlerClient, chClient := collector()
	if err := client.Start(handlerClient); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, err := client.Dial(ctx, server.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}

	ping, pong := []byte("ping"), []byte("pong")

	r := awaitDatagram(t, func() error { return client.Send(ping, peer) }, chServer, ping)
	awaitDatagram(t, func() error { return server.Send(pong, r.src) }, chClient, pong)

	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if err := server.Close(); err != nil {
		t.Fatal(err)
	}
}
