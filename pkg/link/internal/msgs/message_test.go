// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgs

import (
	"bytes"
	"math"
	"reflect"
	"testing"
)

func TestHeaderBytes(t *testing.T) {
	tests := []struct {
		header Header
		data   []byte
	}{
		{Header{0, 0, 0}, []byte{0x00, 0x00, 0x00}},
		{Header{1, 23, 24}, []byte{0x01, 0x17, 0x18, 0x18}},
		{Header{0, 256, 1000}, []byte{0x00, 0x19, 0x01, 0x00, 0x19, 0x03, 0xE8}},
	}

	for _, test := range tests {
		if data := test.header.Bytes(); !bytes.Equal(data, test.data) {
			t.Fatalf("%v: expected %x, got %x", test.header, test.data, data)
		}

		payload := append(append([]byte{}, test.data...), 0xAA, 0xBB)
		h, n, err := ParseHeader(payload)
		if err != nil {
			t.Fatal(err)
		}
		if h != test.header || n != len(test.data) {
			t.Fatalf("parsed %v, %d bytes; expected %v, %d bytes", h, n, test.header, len(test.data))
		}
	}
}

func TestHeaderMaxLen(t *testing.T) {
	h := Header{math.MaxUint64, math.MaxUint64, math.MaxUint64}
	if l := len(h.Bytes()); l != MaxHeaderLen {
		t.Fatalf("expected %d bytes, got %d", MaxHeaderLen, l)
	}
}

func TestParseHeaderTruncated(t *testing.T) {
	data := Header{1, 1000, 1000}.Bytes()
	if _, _, err := ParseHeader(data[:4]); err == nil {
		t.Fatal("truncated header was parsed")
	}
}

func TestMessages(t *testing.T) {
	tests := []Message{
		&ChangeMgmtChannelProtocolRequest{Protocol: "bmcp/2"},
		&ChangeMgmtChannelProtocolConfirmation{AckId: 3, Protocol: "bmcp/2"},
		&ConnectCrypto{Method: "rot", Params: []byte{0x2A}},
		&ConnectCryptoEchoRequest{Method: "rot", Params: []byte{0x07}, UnreliableChannelId: 9001, EchoNonce: 1 << 40},
		&ConnectEchoReply{EchoNonce: 1 << 40},
		&ConnectFullEncryptionRequest{},
		&ConnectConfirmation{},
		&ChannelBlockStatusRequest{},
		&ChannelBlockStatusReport{Channels: []ChannelBlockStatus{
			{ChannelId: 0, LowestId: 0, HighestId: 4, NumIds: 5},
			{
				ChannelId:      42,
				LowestId:       0,
				HighestId:      12,
				NumIds:         8,
				MissingSingles: []uint64{3, 7},
				MissingBlocks:  []IdBlock{{Start: 9, Count: 3}},
			},
		}},
		&OpenChannelRequest{ChannelId: 23, Protocol: "test"},
		&OpenChannelConfirmation{AckId: 5, ChannelId: 23, Protocol: "test"},
		&Throttle{BytesPerSecond: 1000},
		&Ack{AckId: 17},
		&Disconnect{},
		&KillLink{},
	}

	seen := make(map[CommandType]bool)
	for _, msg := range tests {
		t.Run(msg.Command().String(), func(t *testing.T) {
			data, err := Encode(msg)
			if err != nil {
				t.Fatal(err)
			}
			if CommandType(data[0]) != msg.Command() {
				t.Fatalf("command byte %d, expected %d", data[0], msg.Command())
			}

			decoded, err := Decode(data)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(msg, decoded) {
				t.Fatalf("expected %v, got %v", msg, decoded)
			}
		})
		seen[msg.Command()] = true
	}

	if len(seen) != len(messages) {
		t.Fatalf("tested %d of %d registered messages", len(seen), len(messages))
	}
}

func TestCommandTypeValues(t *testing.T) {
	if ChangeMgmtChannelProtocolRequestType != 0 || ConnectConfirmationType != 6 || KillLinkType != 14 {
		t.Fatal("command type values have shifted")
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown command", []byte{0xFF, 0x80}},
		{"wrong array length", []byte{byte(ConnectEchoReplyType), 0x82, 0x01, 0x02}},
		{"trailing bytes", []byte{byte(KillLinkType), 0x80, 0x00}},
		{"truncated", []byte{byte(OpenChannelRequestType), 0x82, 0x17}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if msg, err := Decode(test.data); err == nil {
				t.Fatalf("decoded %v", msg)
			}
		})
	}
}
