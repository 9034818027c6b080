// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"fmt"
	"net"
	"time"

	"github.com/dtn7/dtnlink/pkg/link"
	"github.com/dtn7/dtnlink/pkg/substrate"
)

// managedLink wraps a Link supervised by the Manager.
type managedLink struct {
	link      *link.Link
	substrate substrate.Substrate
	key       string
	initiator bool
	created   time.Time

	disconnecting time.Time
}

func newManagedLink(l *link.Link, sub substrate.Substrate, key string, initiator bool) *managedLink {
	return &managedLink{
		link:      l,
		substrate: sub,
		key:       key,
		initiator: initiator,
		created:   time.Now(),
	}
}

// expired reports a Link stuck in its handshake or in its disconnect for longer than the timeout. The sweep is the
// only caller, so disconnecting needs no lock.
func (ml *managedLink) expired(timeout time.Duration) bool {
	switch status := ml.link.Status(); {
	case status == link.StatusNone || status.Handshaking():
		return time.Since(ml.created) > timeout

	case status == link.StatusDisconnecting:
		if ml.disconnecting.IsZero() {
			ml.disconnecting = time.Now()
		}
		return time.Since(ml.disconnecting) > timeout

	default:
		return false
	}
}

func (ml *managedLink) String() string {
	return fmt.Sprintf("%v via %v", ml.link, ml.substrate)
}

// linkKey identifies a peer on a Substrate.
func linkKey(sub substrate.Substrate, peer net.Addr) string {
	return fmt.Sprintf("%s|%s|%s", sub, peer.Network(), peer.String())
}
