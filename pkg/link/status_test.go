// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import "testing"

func TestStatusCanAdvance(t *testing.T) {
	tests := []struct {
		from, to Status
		valid    bool
	}{
		{StatusNone, StatusConnectRequested, true},
		{StatusNone, StatusEchoRequested, true},
		{StatusConnectRequested, StatusEchoReplied, true},
		{StatusEchoReplied, StatusConnected, true},
		{StatusEchoRequested, StatusFullEncryptionRequested, true},
		{StatusFullEncryptionRequested, StatusConnected, true},
		{StatusConnected, StatusDisconnecting, true},
		{StatusDisconnecting, StatusDisconnected, true},
		{StatusConnected, StatusKilled, true},

		{StatusConnected, StatusConnectRequested, false},
		{StatusConnected, StatusEchoReplied, false},
		{StatusConnected, StatusConnected, false},
		{StatusConnectRequested, StatusEchoRequested, false},
		{StatusConnectRequested, StatusFullEncryptionRequested, false},
		{StatusEchoRequested, StatusEchoReplied, false},
		{StatusDisconnected, StatusConnected, false},
		{StatusKilled, StatusDisconnected, false},
	}

	for _, test := range tests {
		if valid := test.from.canAdvance(test.to); valid != test.valid {
			t.Errorf("%v -> %v: got %t, expected %t", test.from, test.to, valid, test.valid)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []Status{StatusDisconnected, StatusKilled} {
		if !s.Terminal() {
			t.Errorf("%v is not terminal", s)
		}
	}
	for _, s := range []Status{StatusConnectRequested, StatusEchoReplied, StatusEchoRequested, StatusFullEncryptionRequested} {
		if !s.Handshaking() {
			t.Errorf("%v is not handshaking", s)
		}
	}
	for _, s := range []Status{StatusNone, StatusConnected, StatusDisconnecting} {
		if s.Terminal() || s.Handshaking() {
			t.Errorf("%v is terminal or handshaking", s)
		}
	}
}
