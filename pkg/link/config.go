// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/dtnlink/pkg/link/crypto"
	"github.com/dtn7/dtnlink/pkg/link/internal/backup"
	"github.com/dtn7/dtnlink/pkg/link/internal/reorder"
)

// DefaultManagementProtocol is the initial protocol identifier of each management channel.
const DefaultManagementProtocol = "bmcp/1"

// Config of a Link.
type Config struct {
	// CryptoMethod is the name of the Method requested by an initiating Link.
	CryptoMethod string

	// Registry of supported crypto Methods.
	Registry *crypto.Registry

	// ManagementResend and DataResend configure the retransmissions of management and data channel packets.
	ManagementResend backup.Policy
	DataResend       backup.Policy

	// BlockStatusInterval between periodic ChannelBlockStatusRequests while connected.
	BlockStatusInterval time.Duration

	// ThrottleCooldown is the minimum time between two throttle messages; ThrottleFloor the lowest requested rate.
	ThrottleCooldown time.Duration
	ThrottleFloor    uint64

	// ReorderCapacity limits the outstanding ids per channel beyond the next expected one.
	ReorderCapacity int

	// DeliveryQueue is the size of each channel's hand-off queue to its consumer.
	DeliveryQueue int

	// MaxPayload is the largest plain body of a data packet. Larger writes are split.
	MaxPayload int

	// EventQueue is the size of the Link's Events channel.
	EventQueue int

	// ManagementProtocols lists the supported management protocol identifiers.
	ManagementProtocols []string
}

// DefaultConfig returns the default Config using the secretbox crypto method.
func DefaultConfig() Config {
	dataResend := backup.DefaultPolicy()
	dataResend.Interval = 4 * time.Second
	dataResend.MaxInterval = 30 * time.Second
	dataResend.Backoff = 2.0

	return Config{
		CryptoMethod:        crypto.SecretBox{}.Name(),
		Registry:            crypto.DefaultRegistry(),
		ManagementResend:    backup.DefaultPolicy(),
		DataResend:          dataResend,
		BlockStatusInterval: 3 * time.Second,
		ThrottleCooldown:    250 * time.Millisecond,
		ThrottleFloor:       10,
		ReorderCapacity:     reorder.DefaultCapacity,
		DeliveryQueue:       64,
		MaxPayload:          1024,
		EventQueue:          64,
		ManagementProtocols: []string{DefaultManagementProtocol},
	}
}

// Validate this Config. All problems are reported at once.
func (c Config) Validate() error {
	var errs error

	if c.Registry == nil {
		errs = multierror.Append(errs, fmt.Errorf("no crypto registry configured"))
	} else if _, err := c.Registry.Lookup(c.CryptoMethod); err != nil {
		errs = multierror.Append(errs, err)
	}

	for name, policy := range map[string]backup.Policy{"management": c.ManagementResend, "data": c.DataResend} {
		if policy.Interval <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s resend interval must be positive", name))
		}
		if policy.Backoff < 1.0 {
			errs = multierror.Append(errs, fmt.Errorf("%s resend backoff must be at least 1.0", name))
		}
	}

	if c.BlockStatusInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("block status interval must be positive"))
	}
	if c.ReorderCapacity <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("reorder capacity must be positive"))
	}
	if c.DeliveryQueue <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("delivery queue must be positive"))
	}
	if c.MaxPayload <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("max payload must be positive"))
	}
	if len(c.ManagementProtocols) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("no management protocol configured"))
	}

	return errs
}

func (c Config) supportsManagementProtocol(protocol string) bool {
	for _, p := range c.ManagementProtocols {
		if p == protocol {
			return true
		}
	}
	return false
}
