// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package flow schedules outbound datagrams by priority under a throttle-driven rate cap.
package flow

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Priority of an outbound datagram. Lower values are sent first.
type Priority int

const (
	// PriorityManagement is used for management traffic, preempting data.
	PriorityManagement Priority = iota

	// PriorityData is used for data channel traffic.
	PriorityData
)

func (p Priority) String() string {
	switch p {
	case PriorityManagement:
		return "management"
	case PriorityData:
		return "data"
	default:
		return "unknown"
	}
}

// ErrClosed is returned for datagrams passed to or pending in a closed Controller.
var ErrClosed = errors.New("flow controller is closed")

// SendFunc transmits one datagram.
type SendFunc func(data []byte) error

type packet struct {
	priority Priority
	seq      uint64
	data     []byte
	done     chan error
	index    int
}

type packetQueue []*packet

func (pq packetQueue) Len() int { return len(pq) }

func (pq packetQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq packetQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *packetQueue) Push(x any) {
	p := x.(*packet)
	p.index = len(*pq)
	*pq = append(*pq, p)
}

func (pq *packetQueue) Pop() any {
	old := *pq
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	*pq = old[:n-1]
	return p
}

// Controller queues outbound datagrams by Priority and hands them to a SendFunc, limited by a send cap.
type Controller struct {
	send    SendFunc
	limiter *rate.Limiter
	burst   int

	mutex sync.Mutex
	queue packetQueue
	seq   uint64
	wake  chan struct{}

	sent *Meter
	cap  atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	stopAck  chan struct{}
	finished atomic.Bool
}

// NewController starts a Controller. The burst is the largest amount of bytes passed at once, e.g., the datagram size.
func NewController(send SendFunc, burst int) *Controller {
	if burst <= 0 {
		burst = 64 * 1024
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		send:    send,
		limiter: rate.NewLimiter(rate.Inf, burst),
		burst:   burst,
		wake:    make(chan struct{}, 1),
		sent:    NewMeter(),
		ctx:     ctx,
		cancel:  cancel,
		stopAck: make(chan struct{}),
	}
	go c.handle()

	return c
}

// Send enqueues a datagram. If wait is set, Send blocks until the datagram was passed to the SendFunc and returns
// its error.
func (c *Controller) Send(priority Priority, data []byte, wait bool) error {
	if c.finished.Load() {
		return ErrClosed
	}

	p := &packet{priority: priority, data: data}
	if wait {
		p.done = make(chan error, 1)
	}

	c.mutex.Lock()
	p.seq = c.seq
	c.seq++
	heap.Push(&c.queue, p)
	c.mutex.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}

	if !wait {
		return nil
	}

	select {
	case err := <-p.done:
		return err
	case <-c.stopAck:
		return ErrClosed
	}
}

// Throttle applies a peer's throttle request, see ThrottleLimit. The returned value is the new cap.
func (c *Controller) Throttle(requested uint64) uint64 {
	observed := c.sent.Reset()
	limit := ThrottleLimit(requested, observed)
	c.SetCap(limit)

	log.WithFields(log.Fields{
		"requested": requested,
		"observed":  observed,
		"cap":       limit,
	}).Debug("Flow controller applied throttle")

	return limit
}

// SetCap sets the send cap in bytes per second; Uncapped removes it.
func (c *Controller) SetCap(bytesPerSecond uint64) {
	c.cap.Store(bytesPerSecond)
	if bytesPerSecond == Uncapped {
		c.limiter.SetLimit(rate.Inf)
	} else {
		c.limiter.SetLimit(rate.Limit(bytesPerSecond))
	}
}

// Cap is the current send cap in bytes per second or Uncapped.
func (c *Controller) Cap() uint64 {
	return c.cap.Load()
}

// SentBytes is the total amount of bytes passed to the SendFunc.
func (c *Controller) SentBytes() uint64 {
	return c.sent.Total()
}

// Pending datagrams not yet sent.
func (c *Controller) Pending() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.queue.Len()
}

func (c *Controller) pop() *packet {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(&c.queue).(*packet)
}

func (c *Controller) handle() {
	defer close(c.stopAck)

	for {
		select {
		case <-c.ctx.Done():
			c.drain()
			return

		case <-c.wake:
			for p := c.pop(); p != nil; p = c.pop() {
				n := len(p.data)
				if n > c.burst {
					n = c.burst
				}

				if err := c.limiter.WaitN(c.ctx, n); err != nil {
					c.finish(p, ErrClosed)
					c.drain()
					return
				}

				err := c.send(p.data)
				if err != nil {
					log.WithError(err).WithField("priority", p.priority).Debug("Flow controller failed to send datagram")
				} else {
					c.sent.Add(len(p.data))
				}
				c.finish(p, err)
			}
		}
	}
}

func (c *Controller) finish(p *packet, err error) {
	if p.done != nil {
		p.done <- err
	}
}

func (c *Controller) drain() {
	for p := c.pop(); p != nil; p = c.pop() {
		c.finish(p, ErrClosed)
	}
}

// Close the Controller. Pending datagrams are dropped.
func (c *Controller) Close() {
	if !c.finished.CompareAndSwap(false, true) {
		return
	}

	c.cancel()
	<-c.stopAck
}
