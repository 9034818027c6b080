// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package msgs defines the Link header and the messages of the management protocol, BMCP.
//
// A BMCP message is serialized as a single command byte, followed by the CBOR representation of its fields.
package msgs

import (
	"bytes"
	"fmt"
	"io"
	"reflect"

	"github.com/dtn7/cboring"
)

// CommandType identifies a BMCP message. The values are part of the wire format.
type CommandType uint8

const (
	ChangeMgmtChannelProtocolRequestType CommandType = iota
	ChangeMgmtChannelProtocolConfirmationType
	ConnectCryptoType
	ConnectCryptoEchoRequestType
	ConnectEchoReplyType
	ConnectFullEncryptionRequestType
	ConnectConfirmationType
	ChannelBlockStatusRequestType
	ChannelBlockStatusReportType
	OpenChannelRequestType
	OpenChannelConfirmationType
	ThrottleType
	AckType
	DisconnectType
	KillLinkType
)

func (ct CommandType) String() string {
	switch ct {
	case ChangeMgmtChannelProtocolRequestType:
		return "ChangeMgmtChannelProtocolRequest"
	case ChangeMgmtChannelProtocolConfirmationType:
		return "ChangeMgmtChannelProtocolConfirmation"
	case ConnectCryptoType:
		return "ConnectCrypto"
	case ConnectCryptoEchoRequestType:
		return "ConnectCryptoEchoRequest"
	case ConnectEchoReplyType:
		return "ConnectEchoReply"
	case ConnectFullEncryptionRequestType:
		return "ConnectFullEncryptionRequest"
	case ConnectConfirmationType:
		return "ConnectConfirmation"
	case ChannelBlockStatusRequestType:
		return "ChannelBlockStatusRequest"
	case ChannelBlockStatusReportType:
		return "ChannelBlockStatusReport"
	case OpenChannelRequestType:
		return "OpenChannelRequest"
	case OpenChannelConfirmationType:
		return "OpenChannelConfirmation"
	case ThrottleType:
		return "Throttle"
	case AckType:
		return "Ack"
	case DisconnectType:
		return "Disconnect"
	case KillLinkType:
		return "KillLink"
	default:
		return fmt.Sprintf("CommandType(%d)", uint8(ct))
	}
}

// Message is implemented by all BMCP messages.
type Message interface {
	// Command type of this Message.
	Command() CommandType

	fmt.Stringer
	cboring.CborMarshaler
}

// messages maps each CommandType to an example instance of its type.
var messages = map[CommandType]Message{
	ChangeMgmtChannelProtocolRequestType:      &ChangeMgmtChannelProtocolRequest{},
	ChangeMgmtChannelProtocolConfirmationType: &ChangeMgmtChannelProtocolConfirmation{},
	ConnectCryptoType:                         &ConnectCrypto{},
	ConnectCryptoEchoRequestType:              &ConnectCryptoEchoRequest{},
	ConnectEchoReplyType:                      &ConnectEchoReply{},
	ConnectFullEncryptionRequestType:          &ConnectFullEncryptionRequest{},
	ConnectConfirmationType:                   &ConnectConfirmation{},
	ChannelBlockStatusRequestType:             &ChannelBlockStatusRequest{},
	ChannelBlockStatusReportType:              &ChannelBlockStatusReport{},
	OpenChannelRequestType:                    &OpenChannelRequest{},
	OpenChannelConfirmationType:               &OpenChannelConfirmation{},
	ThrottleType:                              &Throttle{},
	AckType:                                   &Ack{},
	DisconnectType:                            &Disconnect{},
	KillLinkType:                              &KillLink{},
}

// NewMessage creates an empty Message for a CommandType.
func NewMessage(ct CommandType) (msg Message, err error) {
	msgType, exists := messages[ct]
	if !exists {
		err = fmt.Errorf("no BMCP message registered for command %d", uint8(ct))
		return
	}

	msgElem := reflect.TypeOf(msgType).Elem()
	msg = reflect.New(msgElem).Interface().(Message)
	return
}

// ReadMessage parses the next BMCP message from the Reader.
func ReadMessage(r io.Reader) (msg Message, err error) {
	cmdByte := make([]byte, 1)
	if _, err = io.ReadFull(r, cmdByte); err != nil {
		return
	}

	if msg, err = NewMessage(CommandType(cmdByte[0])); err != nil {
		return
	}

	if err = cboring.Unmarshal(msg, r); err != nil {
		err = fmt.Errorf("unmarshalling %v: %w", CommandType(cmdByte[0]), err)
	}
	return
}

// WriteMessage serializes a BMCP message into the Writer.
func WriteMessage(msg Message, w io.Writer) error {
	if _, err := w.Write([]byte{byte(msg.Command())}); err != nil {
		return err
	}
	return cboring.Marshal(msg, w)
}

// Encode a BMCP message into a new byte slice.
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteMessage(msg, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode a complete BMCP message. Trailing bytes are an error.
func Decode(data []byte) (Message, error) {
	r := bytes.NewReader(data)
	msg, err := ReadMessage(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%v has %d trailing bytes", msg.Command(), r.Len())
	}
	return msg, nil
}

// readArrayLength expects a CBOR array of exactly n elements.
func readArrayLength(r io.Reader, n uint64, name string) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != n {
		return fmt.Errorf("%s expected array of length %d, got %d", name, n, l)
	}
	return nil
}
