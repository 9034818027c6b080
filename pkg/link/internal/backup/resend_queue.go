// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package backup

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Policy of the ResendQueue's retransmission schedule.
type Policy struct {
	// Interval before the first resend.
	Interval time.Duration

	// Backoff multiplies the interval after each resend, up to MaxInterval.
	Backoff     float64
	MaxInterval time.Duration

	// Retries is the amount of resends before a Backup is considered failed.
	Retries int
}

// DefaultPolicy for management and data channels.
func DefaultPolicy() Policy {
	return Policy{
		Interval:    500 * time.Millisecond,
		Backoff:     1.5,
		MaxInterval: 5 * time.Second,
		Retries:     10,
	}
}

type backupQueue []*Backup

func (bq backupQueue) Len() int { return len(bq) }

func (bq backupQueue) Less(i, j int) bool { return bq[i].due.Before(bq[j].due) }

func (bq backupQueue) Swap(i, j int) {
	bq[i], bq[j] = bq[j], bq[i]
	bq[i].index = i
	bq[j].index = j
}

func (bq *backupQueue) Push(x any) {
	b := x.(*Backup)
	b.index = len(*bq)
	*bq = append(*bq, b)
}

func (bq *backupQueue) Pop() any {
	old := *bq
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.index = -1
	*bq = old[:n-1]
	return b
}

// ResendQueue retransmits Backups by their due time until they are cleared or their retries are exhausted.
//
// Cancellation happens by clearing a Backup. The ResendQueue checks each Backup's state when it becomes due and
// silently drops cleared ones.
type ResendQueue struct {
	policy Policy
	resend func(*Backup) error
	fail   func(*Backup)

	mutex sync.Mutex
	queue backupQueue
	wake  chan struct{}

	resends atomic.Uint64

	stopSyn  chan struct{}
	stopAck  chan struct{}
	finished atomic.Bool

	now func() time.Time
}

// NewResendQueue starts a ResendQueue. The resend function retransmits a Backup, fail is called for exhausted ones.
func NewResendQueue(policy Policy, resend func(*Backup) error, fail func(*Backup)) *ResendQueue {
	rq := &ResendQueue{
		policy:  policy,
		resend:  resend,
		fail:    fail,
		wake:    make(chan struct{}, 1),
		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
		now:     time.Now,
	}
	go rq.handle()

	return rq
}

// Schedule a freshly sent Backup for retransmission.
func (rq *ResendQueue) Schedule(b *Backup) {
	if rq.finished.Load() || b.Cleared() {
		return
	}

	rq.mutex.Lock()
	if b.queued {
		rq.mutex.Unlock()
		return
	}
	b.interval = rq.policy.Interval
	b.retries = rq.policy.Retries
	b.due = rq.now().Add(b.interval)
	b.queued = true
	heap.Push(&rq.queue, b)
	rq.mutex.Unlock()

	rq.notify()
}

// Expedite moves a queued Backup's next resend to now, e.g., after a block status report declared it missing.
// Unqueued Backups are scheduled.
func (rq *ResendQueue) Expedite(b *Backup) {
	if rq.finished.Load() || b.Cleared() {
		return
	}

	rq.mutex.Lock()
	if !b.queued {
		b.interval = rq.policy.Interval
		b.retries = rq.policy.Retries
		b.due = rq.now()
		b.queued = true
		heap.Push(&rq.queue, b)
	} else {
		b.due = rq.now()
		heap.Fix(&rq.queue, b.index)
	}
	rq.mutex.Unlock()

	rq.notify()
}

func (rq *ResendQueue) notify() {
	select {
	case rq.wake <- struct{}{}:
	default:
	}
}

// Len is the amount of queued Backups, including cleared ones not yet dropped.
func (rq *ResendQueue) Len() int {
	rq.mutex.Lock()
	defer rq.mutex.Unlock()

	return rq.queue.Len()
}

// Resends is the total amount of performed retransmissions.
func (rq *ResendQueue) Resends() uint64 {
	return rq.resends.Load()
}

// nextDue pops all due Backups and returns the delay until the next one.
func (rq *ResendQueue) nextDue() (due []*Backup, delay time.Duration, ok bool) {
	rq.mutex.Lock()
	defer rq.mutex.Unlock()

	now := rq.now()
	for rq.queue.Len() > 0 {
		b := rq.queue[0]
		if b.Cleared() {
			heap.Pop(&rq.queue)
			b.queued = false
			continue
		}
		if b.due.After(now) {
			return due, b.due.Sub(now), true
		}

		heap.Pop(&rq.queue)
		b.queued = false
		due = append(due, b)
	}
	return due, 0, false
}

func (rq *ResendQueue) reschedule(b *Backup) {
	rq.mutex.Lock()
	defer rq.mutex.Unlock()

	if b.queued || b.Cleared() {
		return
	}

	next := time.Duration(float64(b.interval) * rq.policy.Backoff)
	if rq.policy.MaxInterval > 0 && next > rq.policy.MaxInterval {
		next = rq.policy.MaxInterval
	}
	b.interval = next
	b.due = rq.now().Add(next)
	b.queued = true
	heap.Push(&rq.queue, b)
}

func (rq *ResendQueue) handle() {
	defer close(rq.stopAck)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		select {
		case <-rq.stopSyn:
			return
		default:
		}

		due, delay, pending := rq.nextDue()

		for _, b := range due {
			rq.mutex.Lock()
			exhausted := b.retries <= 0
			b.retries--
			rq.mutex.Unlock()

			if exhausted {
				b.Clear()
				log.WithFields(log.Fields{
					"channel": b.ChannelId,
					"id":      b.Id,
				}).Warn("Resend queue exhausted retries for packet")

				if rq.fail != nil {
					rq.fail(b)
				}
				continue
			}

			if err := rq.resend(b); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"channel": b.ChannelId,
					"id":      b.Id,
				}).Debug("Resend queue failed to resend packet")
			} else {
				rq.resends.Add(1)
			}
			rq.reschedule(b)
		}

		if len(due) > 0 {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if pending {
			timer.Reset(delay)
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-rq.stopSyn:
			return
		case <-rq.wake:
		case <-timer.C:
		}
	}
}

// Close stops the ResendQueue. No further resends happen after Close returned.
func (rq *ResendQueue) Close() {
	if !rq.finished.CompareAndSwap(false, true) {
		return
	}

	close(rq.stopSyn)
	<-rq.stopAck
}
