// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package crypto

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/dtn7/dtnlink/pkg/link/internal/msgs"
)

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	if names := r.Names(); !reflect.DeepEqual(names, []string{"none", "rot", "secretbox"}) {
		t.Fatalf("unexpected names %v", names)
	}
	if _, err := r.Lookup("rsa"); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
	if m, err := r.Lookup("rot"); err != nil || m.Name() != "rot" {
		t.Fatalf("lookup rot: %v %v", m, err)
	}
}

func TestMethods(t *testing.T) {
	for _, m := range []Method{None{}, Rot{}, SecretBox{}} {
		t.Run(m.Name(), func(t *testing.T) {
			params, err := m.GenerateParams()
			if err != nil {
				t.Fatal(err)
			}
			tf, err := m.NewTransforms(params)
			if err != nil {
				t.Fatal(err)
			}

			// Header round trip with a longer decoded prefix.
			header := msgs.Header{ChannelId: 42, DataId: 1000, Length: 300}.Bytes()
			datagram := append(append([]byte{}, header...), []byte("body follows")...)
			tf.Header.Encode(datagram[:len(header)])

			prefix := append([]byte{}, datagram...)
			if len(prefix) > msgs.MaxHeaderLen {
				prefix = prefix[:msgs.MaxHeaderLen]
			}
			tf.Header.Decode(prefix)

			h, n, err := msgs.ParseHeader(prefix)
			if err != nil {
				t.Fatal(err)
			}
			if h.ChannelId != 42 || h.DataId != 1000 || h.Length != 300 || n != len(header) {
				t.Fatalf("unexpected header %v, %d bytes", h, n)
			}

			// Body round trip.
			plain := []byte("hello link")
			sealed := tf.Body.Seal(42, 7, append([]byte{}, plain...))
			opened, err := tf.Body.Open(42, 7, sealed)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(opened, plain) {
				t.Fatalf("expected %q, got %q", plain, opened)
			}
		})
	}
}

func TestRotWrongKey(t *testing.T) {
	a, _ := Rot{}.NewTransforms([]byte{3})
	b, _ := Rot{}.NewTransforms([]byte{5})

	sealed := a.Body.Seal(0, 0, []byte("some payload"))
	if _, err := b.Body.Open(0, 0, sealed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if _, err := a.Body.Open(0, 0, []byte{1}); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen for short body, got %v", err)
	}
	if _, err := (Rot{}).NewTransforms([]byte{0}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestSecretBoxNonce(t *testing.T) {
	params, _ := SecretBox{}.GenerateParams()
	tf, _ := SecretBox{}.NewTransforms(params)

	sealed := tf.Body.Seal(1, 2, []byte("payload"))
	if _, err := tf.Body.Open(1, 3, sealed); !errors.Is(err, ErrOpen) {
		t.Fatalf("opened with wrong data id: %v", err)
	}
	if _, err := (SecretBox{}).NewTransforms(params[:16]); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestSlot(t *testing.T) {
	s := NewSlot("initial")

	if s.Apply() {
		t.Fatal("applied without staged value")
	}

	s.Stage("next")
	if !s.Staged() || s.Active() != "initial" {
		t.Fatal("staged value became active")
	}

	if !s.Apply() || s.Active() != "next" || s.Staged() {
		t.Fatalf("apply failed: active %q", s.Active())
	}

	s.Stage("discarded")
	s.Set("direct")
	if s.Active() != "direct" || s.Staged() {
		t.Fatalf("set failed: active %q", s.Active())
	}
}
