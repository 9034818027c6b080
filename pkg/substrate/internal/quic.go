// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package internal holds the TLS and QUIC settings of the QUIC datagram substrate.
package internal

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN identifies the QUIC datagram substrate during the TLS handshake.
const ALPN = "dtnlink-datagram"

const (
	// ApplicationShutdown is sent when a substrate is closed.
	ApplicationShutdown quic.ApplicationErrorCode = 5
)

// GenerateListenerTLSConfig creates a bare-bones TLS config with a fresh self-signed certificate.
//
// The Link performs its own encryption handshake; TLS is only required by QUIC.
func GenerateListenerTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// GenerateDialerTLSConfig creates a TLS config accepting the listener's self-signed certificate.
func GenerateDialerTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
}

// GenerateQUICConfig enables unreliable datagrams; streams are not used.
func GenerateQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:    1 * time.Second,
		MaxIdleTimeout:     30 * time.Second,
		EnableDatagrams:    true,
		MaxIncomingStreams: -1,
	}
}
