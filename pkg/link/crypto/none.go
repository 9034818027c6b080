// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package crypto

// None is the identity Method. It is also the initial transform of each Link.
type None struct{}

func (None) Name() string { return "none" }

func (None) GenerateParams() ([]byte, error) { return []byte{}, nil }

func (None) NewTransforms([]byte) (Transforms, error) { return Identity(), nil }

// Identity Transforms, leaving everything untouched.
func Identity() Transforms {
	return Transforms{Header: identity{}, Body: identity{}}
}

type identity struct{}

func (identity) Encode([]byte) {}

func (identity) Decode([]byte) {}

func (identity) Seal(_, _ uint64, plain []byte) []byte { return plain }

func (identity) Open(_, _ uint64, sealed []byte) ([]byte, error) { return sealed, nil }
