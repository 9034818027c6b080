// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dtn7/dtnlink/pkg/link/crypto"
	"github.com/dtn7/dtnlink/pkg/link/internal/msgs"
	"github.com/dtn7/dtnlink/pkg/link/internal/reorder"
)

type memAddr string

func (memAddr) Network() string { return "mem" }

func (a memAddr) String() string { return string(a) }

// memNetwork delivers datagrams between Links in memory. Optionally, batches of up to three datagrams are delivered
// in reverse order and single datagrams might be dropped.
type memNetwork struct {
	mutex   sync.Mutex
	queues  map[string]chan []byte
	batches map[string][][]byte
	sent    map[string][][]byte
	reverse bool
	drop    func(from string, datagram []byte) bool

	wg   sync.WaitGroup
	stop chan struct{}
}

func newMemNetwork(reverse bool) *memNetwork {
	return &memNetwork{
		queues:  make(map[string]chan []byte),
		batches: make(map[string][][]byte),
		sent:    make(map[string][][]byte),
		reverse: reverse,
		stop:    make(chan struct{}),
	}
}

func (n *memNetwork) register(name string, l *Link) {
	queue := make(chan []byte, 4096)

	n.mutex.Lock()
	n.queues[name] = queue
	n.mutex.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-n.stop:
				return
			case datagram := <-queue:
				l.Receive(datagram)
			}
		}
	}()
}

func (n *memNetwork) close() {
	close(n.stop)
	n.wg.Wait()
}

func (n *memNetwork) sink(name string) Sink {
	return memSink{network: n, from: name}
}

func (n *memNetwork) sentCount() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	count := 0
	for _, datagrams := range n.sent {
		count += len(datagrams)
	}
	return count
}

func (n *memNetwork) sentBy(name string) [][]byte {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	return append([][]byte(nil), n.sent[name]...)
}

// inject a datagram as if it was sent again.
func (n *memNetwork) inject(to string, datagram []byte) {
	n.mutex.Lock()
	queue := n.queues[to]
	n.mutex.Unlock()

	queue <- datagram
}

func (n *memNetwork) send(from, to string, datagram []byte) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.sent[from] = append(n.sent[from], datagram)

	if n.drop != nil && n.drop(from, datagram) {
		return
	}

	queue, ok := n.queues[to]
	if !ok {
		return
	}

	if !n.reverse {
		queue <- datagram
		return
	}

	batch := append(n.batches[to], datagram)
	n.batches[to] = batch
	switch len(batch) {
	case 1:
		time.AfterFunc(50*time.Millisecond, func() { n.flush(to) })
	case 3:
		n.flushLocked(to)
	}
}

func (n *memNetwork) flush(to string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.flushLocked(to)
}

func (n *memNetwork) flushLocked(to string) {
	batch := n.batches[to]
	delete(n.batches, to)

	for i := len(batch) - 1; i >= 0; i-- {
		n.queues[to] <- batch[i]
	}
}

type memSink struct {
	network *memNetwork
	from    string
}

func (s memSink) Send(b []byte, dst net.Addr) error {
	datagram := make([]byte, len(b))
	copy(datagram, b)

	s.network.send(s.from, dst.String(), datagram)
	return nil
}

func testConfig() Config {
	config := DefaultConfig()
	config.ManagementResend.Interval = 100 * time.Millisecond
	config.ManagementResend.MaxInterval = 500 * time.Millisecond
	config.ManagementResend.Retries = 50
	config.BlockStatusInterval = time.Hour
	config.ThrottleCooldown = time.Hour
	return config
}

// recorder is a Handler collecting all received payloads.
type recorder struct {
	mutex  sync.Mutex
	data   bytes.Buffer
	notify chan struct{}
	closed chan error
}

func newRecorder() *recorder {
	return &recorder{
		notify: make(chan struct{}, 1),
		closed: make(chan error, 1),
	}
}

func (r *recorder) Receive(_ *DataChannel, data []byte) {
	r.mutex.Lock()
	r.data.Write(data)
	r.mutex.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) Closed(_ *DataChannel, err error) {
	r.closed <- err
}

func (r *recorder) bytes() []byte {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return append([]byte(nil), r.data.Bytes()...)
}

func (r *recorder) await(t *testing.T, n int, timeout time.Duration) []byte {
	t.Helper()

	deadline := time.After(timeout)
	for {
		if data := r.bytes(); len(data) >= n {
			return data
		}

		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("received %d of %d bytes", len(r.bytes()), n)
		}
	}
}

func acceptingFactory(protocol string, handler Handler) ChannelFactory {
	return func(_ uint64, p string) (Handler, bool) {
		return handler, p == protocol
	}
}

type pair struct {
	network *memNetwork
	a, b    *Link
}

func newPair(t *testing.T, configA, configB Config, factoryA, factoryB ChannelFactory, reverse bool) *pair {
	t.Helper()

	network := newMemNetwork(reverse)

	a, err := New(configA, memAddr("b"), network.sink("a"), factoryA)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(configB, memAddr("a"), network.sink("b"), factoryB)
	if err != nil {
		t.Fatal(err)
	}

	network.register("a", a)
	network.register("b", b)

	p := &pair{network: network, a: a, b: b}
	t.Cleanup(p.close)
	return p
}

func (p *pair) close() {
	_ = p.a.Close()
	_ = p.b.Close()
	p.network.close()
}

func (p *pair) connect(t *testing.T) {
	t.Helper()

	if err := p.a.Connect(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, l := range []*Link{p.a, p.b} {
		if err := l.WaitConnected(ctx); err != nil {
			t.Fatalf("%v: %v, status %v", l, err, l.Status())
		}
	}
}

func awaitEvent(t *testing.T, l *Link, eventType EventType, timeout time.Duration) Event {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case e := <-l.Events():
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("%v: no %v event, status %v", l, eventType, l.Status())
		}
	}
}

func TestLinkHandshake(t *testing.T) {
	for _, method := range crypto.DefaultRegistry().Names() {
		t.Run(method, func(t *testing.T) {
			config := testConfig()
			config.CryptoMethod = method

			p := newPair(t, config, config, nil, nil, false)
			p.connect(t)

			awaitEvent(t, p.a, Connected, time.Second)
			awaitEvent(t, p.b, Connected, time.Second)

			if !p.a.Initiator() || p.b.Initiator() {
				t.Fatal("wrong initiator roles")
			}
			for _, l := range []*Link{p.a, p.b} {
				if stats := l.Stats(); stats.Method != method || stats.Status != StatusConnected {
					t.Fatalf("%v: unexpected stats %+v", l, stats)
				}
			}

			if p.a.outHeader.Staged() || p.b.inHeader.Staged() {
				t.Fatal("header transforms are still staged")
			}
			if p.a.unreliableId.Load() == 0 || p.a.unreliableId.Load() != p.b.unreliableId.Load() {
				t.Fatal("unreliable channel id was not agreed on")
			}
		})
	}
}

func TestLinkConnectTwice(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil, false)
	p.connect(t)

	if err := p.a.Connect(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if err := p.b.Connect(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestLinkHandshakeReplay(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil, false)
	p.connect(t)

	// Replaying the responder's very first datagram, the ConnectCryptoEchoRequest.
	first := p.network.sentBy("b")[0]
	p.network.inject("a", first)

	// Processing a repeated echo request directly, bypassing the duplicate detection.
	p.a.managementChannel().process(0, &msgs.ConnectCryptoEchoRequest{
		Method:              p.a.Stats().Method,
		Params:              make([]byte, 32),
		UnreliableChannelId: 23,
		EchoNonce:           42,
	})
	p.b.managementChannel().process(0, &msgs.ConnectCrypto{Method: "none", Params: []byte{}})

	time.Sleep(200 * time.Millisecond)

	for _, l := range []*Link{p.a, p.b} {
		if status := l.Status(); status != StatusConnected {
			t.Fatalf("%v: status changed to %v", l, status)
		}
		if l.outHeader.Staged() || l.inHeader.Staged() {
			t.Fatalf("%v: replay staged a transform", l)
		}
	}
	if p.a.unreliableId.Load() == 23 {
		t.Fatal("replay changed the unreliable channel id")
	}
}

func TestLinkDataTransfer(t *testing.T) {
	config := testConfig()
	config.MaxPayload = 400

	recvB := newRecorder()
	p := newPair(t, config, config,
		acceptingFactory("test", newRecorder()), acceptingFactory("test", recvB), true)
	p.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dc, err := p.a.OpenChannel(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}
	if dc.Protocol() != "test" || dc.Id() == ManagementChannelId {
		t.Fatalf("unexpected channel %v", dc)
	}

	payload := make([]byte, 1000)
	rand.New(rand.NewSource(23)).Read(payload)
	if err := dc.Send(payload, false); err != nil {
		t.Fatal(err)
	}

	if data := recvB.await(t, len(payload), 5*time.Second); !bytes.Equal(data, payload) {
		t.Fatal("received payload differs")
	}

	if stats := dc.Stats(); stats.NextSendId != 3 {
		t.Fatalf("expected three packets, got %d", stats.NextSendId)
	}
}

func TestLinkBidirectional(t *testing.T) {
	recvA := newRecorder()
	echo := HandlerFunc(func(ch *DataChannel, data []byte) {
		_ = ch.Send(data, false)
	})

	p := newPair(t, testConfig(), testConfig(),
		acceptingFactory("echo", recvA), acceptingFactory("echo", echo), false)
	p.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dc, err := p.a.OpenChannel(ctx, "echo")
	if err != nil {
		t.Fatal(err)
	}

	var expected bytes.Buffer
	for i := 0; i < 20; i++ {
		msg := []byte(fmt.Sprintf("message %d;", i))
		expected.Write(msg)
		if _, err := dc.Write(msg); err != nil {
			t.Fatal(err)
		}
	}

	if data := recvA.await(t, expected.Len(), 5*time.Second); !bytes.Equal(data, expected.Bytes()) {
		t.Fatalf("echo differs: %q", data)
	}
}

func TestLinkOpenChannelRejected(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(),
		acceptingFactory("test", newRecorder()), acceptingFactory("other", newRecorder()), false)
	p.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if _, err := p.a.OpenChannel(ctx, "test"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if _, err := p.a.OpenChannel(context.Background(), "unknown"); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected local rejection, got %v", err)
	}
	if len(p.b.Channels()) != 1 {
		t.Fatalf("peer has unexpected channels: %v", p.b.Channels())
	}
}

func TestLinkOpenChannelNotConnected(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil, false)

	if _, err := p.a.OpenChannel(context.Background(), "test"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

// plainHeader parses a datagram's header, requiring the "none" crypto method.
func plainHeader(datagram []byte) (msgs.Header, bool) {
	h, _, err := msgs.ParseHeader(datagram)
	return h, err == nil
}

// dropOnce drops the first transmission of a data packet on any data channel.
func dropOnce(dataId uint64) func(string, []byte) bool {
	var once sync.Once
	return func(from string, datagram []byte) (drop bool) {
		h, ok := plainHeader(datagram)
		if !ok || from != "a" || h.ChannelId == ManagementChannelId || h.DataId != dataId || h.Length < 8 {
			return false
		}
		once.Do(func() { drop = true })
		return
	}
}

func TestLinkBlockStatusRecovery(t *testing.T) {
	config := testConfig()
	config.CryptoMethod = "none"
	config.MaxPayload = 10
	config.DataResend.Interval = time.Hour
	config.DataResend.MaxInterval = time.Hour

	recvB := newRecorder()
	p := newPair(t, config, config,
		acceptingFactory("test", newRecorder()), acceptingFactory("test", recvB), false)
	p.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dc, err := p.a.OpenChannel(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}

	p.network.mutex.Lock()
	p.network.drop = dropOnce(1)
	p.network.mutex.Unlock()

	payload := bytes.Repeat([]byte("0123456789"), 5)
	if err := dc.Send(payload, false); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := len(recvB.bytes()); n != 10 {
		t.Fatalf("expected only the first packet, got %d bytes", n)
	}

	if err := p.a.RequestBlockStatus(); err != nil {
		t.Fatal(err)
	}

	if data := recvB.await(t, len(payload), 2*time.Second); !bytes.Equal(data, payload) {
		t.Fatalf("received %q", data)
	}

	// The report cleared the retained packets.
	deadline := time.Now().Add(time.Second)
	for dc.Stats().Unacknowledged > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d packets are still retained", dc.Stats().Unacknowledged)
		}
		if err := p.a.RequestBlockStatus(); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestLinkIdleAfterHandshake(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil, false)
	p.connect(t)

	// Let the final acknowledgements settle.
	time.Sleep(300 * time.Millisecond)

	sent := p.network.sentCount()
	resends := p.a.Stats().Resends + p.b.Stats().Resends

	// Several management resend intervals pass without any traffic.
	time.Sleep(1200 * time.Millisecond)

	if after := p.network.sentCount(); after != sent {
		t.Fatalf("%d datagrams were sent on an idle link", after-sent)
	}
	if after := p.a.Stats().Resends + p.b.Stats().Resends; after != resends {
		t.Fatalf("%d resends happened on an idle link", after-resends)
	}

	for _, l := range []*Link{p.a, p.b} {
		if n := l.managementChannel().Stats().Unacknowledged; n != 0 {
			t.Fatalf("%v: %d management messages are retained", l, n)
		}
	}
}

func TestLinkThrottle(t *testing.T) {
	config := testConfig()
	config.CryptoMethod = "none"
	config.MaxPayload = 10
	config.DataResend.Interval = time.Hour
	config.DataResend.MaxInterval = time.Hour
	config.ThrottleCooldown = 50 * time.Millisecond

	p := newPair(t, config, config,
		acceptingFactory("test", newRecorder()), acceptingFactory("test", newRecorder()), false)
	p.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dc, err := p.a.OpenChannel(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}

	if limit := p.a.Stats().SendCap; limit != 0 {
		t.Fatalf("fresh link is capped at %d", limit)
	}

	// Every packet after the lost one is buffered by the peer as a gap.
	p.network.mutex.Lock()
	p.network.drop = dropOnce(1)
	p.network.mutex.Unlock()

	if err := dc.Send(bytes.Repeat([]byte("x"), 30), false); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for p.a.Stats().SendCap == 0 {
		if time.Now().After(deadline) {
			t.Fatal("peer did not throttle the sender")
		}

		time.Sleep(100 * time.Millisecond)
		if err := dc.Send(bytes.Repeat([]byte("y"), 10), false); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLinkDeliveryFailed(t *testing.T) {
	config := testConfig()
	config.CryptoMethod = "none"
	config.DataResend.Interval = 50 * time.Millisecond
	config.DataResend.MaxInterval = 100 * time.Millisecond
	config.DataResend.Retries = 2

	p := newPair(t, config, config,
		acceptingFactory("test", newRecorder()), acceptingFactory("test", newRecorder()), false)
	p.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dc, err := p.a.OpenChannel(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}

	p.network.mutex.Lock()
	p.network.drop = func(from string, datagram []byte) bool {
		h, ok := plainHeader(datagram)
		return ok && from == "a" && h.ChannelId == dc.Id()
	}
	p.network.mutex.Unlock()

	if err := dc.Send([]byte("lost forever"), false); err != nil {
		t.Fatal(err)
	}

	e := awaitEvent(t, p.a, DeliveryFailed, 3*time.Second)
	if e.Channel != dc.Id() || !errors.Is(e.Err, ErrDeliveryFailed) {
		t.Fatalf("unexpected event %+v", e)
	}

	if n := dc.Stats().Unacknowledged; n != 0 {
		t.Fatalf("%d failed packets are still retained", n)
	}
	if status := p.a.Status(); status != StatusConnected {
		t.Fatalf("status %v", status)
	}
}

func TestLinkReorderOverflow(t *testing.T) {
	config := testConfig()
	config.CryptoMethod = "none"
	config.MaxPayload = 10
	config.DataResend.Interval = time.Hour
	config.DataResend.MaxInterval = time.Hour

	configB := config
	configB.ReorderCapacity = 4

	recvB := newRecorder()
	p := newPair(t, config, configB,
		acceptingFactory("test", newRecorder()), acceptingFactory("test", recvB), false)
	p.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dc, err := p.a.OpenChannel(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}
	channelId := dc.Id()

	p.network.mutex.Lock()
	p.network.drop = dropOnce(0)
	p.network.mutex.Unlock()

	if err := dc.Send(bytes.Repeat([]byte("x"), 100), false); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-recvB.closed:
		if !errors.Is(err, reorder.ErrCapacityExceeded) {
			t.Fatalf("unexpected close error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not fail")
	}

	e := awaitEvent(t, p.b, ChannelClosed, time.Second)
	if e.Channel != channelId {
		t.Fatalf("event for channel %d, expected %d", e.Channel, channelId)
	}
	if _, ok := p.b.Channel(channelId); ok {
		t.Fatal("failed channel is still registered")
	}
	if status := p.b.Status(); status != StatusConnected {
		t.Fatalf("link status is %v", status)
	}
}

func TestLinkDisconnect(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil, false)
	p.connect(t)

	if err := p.a.Disconnect(); err != nil {
		t.Fatal(err)
	}

	awaitEvent(t, p.a, Disconnected, 2*time.Second)
	awaitEvent(t, p.b, Disconnected, 2*time.Second)

	for _, l := range []*Link{p.a, p.b} {
		if status := l.Status(); status != StatusDisconnected {
			t.Fatalf("%v: status %v", l, status)
		}
		if err := l.Close(); err != nil {
			t.Fatal(err)
		}
	}

	// Nothing is sent after both sides have released their resources.
	sent := p.network.sentCount()
	time.Sleep(300 * time.Millisecond)
	if after := p.network.sentCount(); after != sent {
		t.Fatalf("%d datagrams were sent after disconnecting", after-sent)
	}

	if _, err := p.a.managementChannel().send([]byte{0}, false); err == nil {
		t.Fatal("sending on a closed link succeeded")
	}
}

func TestLinkDisconnectPending(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil, false)

	if err := p.a.Connect(); err != nil {
		t.Fatal(err)
	}
	if err := p.a.Disconnect(); err != nil {
		t.Fatal(err)
	}

	awaitEvent(t, p.a, Connected, 2*time.Second)
	awaitEvent(t, p.a, Disconnected, 2*time.Second)
	awaitEvent(t, p.b, Disconnected, 2*time.Second)
}

func TestLinkDisconnectUnanswered(t *testing.T) {
	config := testConfig()
	config.ManagementResend.Retries = 2

	p := newPair(t, config, config, nil, nil, false)
	p.connect(t)

	// The peer's acknowledgement and KillLink never arrive.
	p.network.mutex.Lock()
	p.network.drop = func(from string, _ []byte) bool { return from == "b" }
	p.network.mutex.Unlock()

	if err := p.a.Disconnect(); err != nil {
		t.Fatal(err)
	}

	e := awaitEvent(t, p.a, Disconnected, 3*time.Second)
	if !errors.Is(e.Err, ErrDeliveryFailed) {
		t.Fatalf("unexpected cause %v", e.Err)
	}
	if status := p.a.Status(); status != StatusDisconnected {
		t.Fatalf("status %v", status)
	}

	awaitEvent(t, p.b, Disconnected, time.Second)
}

func TestLinkKill(t *testing.T) {
	p := newPair(t, testConfig(), testConfig(), nil, nil, false)
	p.connect(t)

	p.a.Kill()
	if status := p.a.Status(); status != StatusKilled {
		t.Fatalf("status %v", status)
	}

	e := awaitEvent(t, p.b, Killed, 2*time.Second)
	if !errors.Is(e.Err, ErrKilledByPeer) {
		t.Fatalf("unexpected kill cause %v", e.Err)
	}

	select {
	case <-p.b.Done():
	case <-time.After(time.Second):
		t.Fatal("peer is not done")
	}
}

func TestLinkChangeManagementProtocol(t *testing.T) {
	config := testConfig()
	config.ManagementProtocols = []string{DefaultManagementProtocol, "bmcp/2"}

	p := newPair(t, config, config, nil, nil, false)
	p.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.a.ChangeManagementProtocol(ctx, "bmcp/3"); !errors.Is(err, ErrUnsupportedProtocol) {
		t.Fatalf("expected ErrUnsupportedProtocol, got %v", err)
	}
	if err := p.a.ChangeManagementProtocol(ctx, "bmcp/2"); err != nil {
		t.Fatal(err)
	}

	for _, l := range []*Link{p.a, p.b} {
		if protocol := l.managementChannel().Protocol(); protocol != "bmcp/2" {
			t.Fatalf("%v: management protocol %q", l, protocol)
		}
	}
}

func TestLinkNewInvalidConfig(t *testing.T) {
	config := testConfig()
	config.CryptoMethod = "unknown"
	config.MaxPayload = 0

	if _, err := New(config, memAddr("b"), newMemNetwork(false).sink("a"), nil); err == nil {
		t.Fatal("invalid config was accepted")
	}
}
