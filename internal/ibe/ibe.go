// Package ibe implements identity-based encryption.
//
// The scheme is the FullIdent construction from "Identity-Based
// Encryption from the Weil Pairing" by Dan Boneh and Matthew Franklin
// (http://crypto.stanford.edu/~dabo/papers/bfibe.pdf). The paper uses
// multiplicative groups while the bn256 package used here defines an
// additive group, so g^i corresponds to ScalarBaseMult(i).
//
// A key issuer runs Setup once, publishes the resulting Params, and
// keeps the Master. Anyone can Encrypt a 32-byte plaintext (typically
// a symmetric key) to an identity string using only the public
// parameters. Only the holder of the identity's PrivateKey, extracted
// by the issuer, can Decrypt.
package ibe

import (
	"math/big"

	"golang.org/x/crypto/bn256"
)

// PlaintextSize is the fixed plaintext length in bytes.
const PlaintextSize = 32

// Plaintext is a message that can be encrypted to an identity.
// Typical use is for the plaintext to be a symmetric key that in turn
// encrypts arbitrary content.
type Plaintext [PlaintextSize]byte

// fieldOrder is the prime order of the base field underlying the
// bn256 groups. The bn256 package does not export it.
var fieldOrder, _ = new(big.Int).SetString("65000549695646603732796438742359905742825358107623003571877145026864184071783", 10)

// Point is an affine curve point over the base field.
type Point struct {
	X *big.Int
	Y *big.Int
}

// Params are the public system parameters published by a key issuer.
// PointP is the group generator and PointPPublic is the issuer's
// public point (the generator scaled by the master secret).
type Params struct {
	FieldOrder    *big.Int
	SubgroupOrder *big.Int
	PointP        Point
	PointPPublic  Point
}

// Ciphertext is an encrypted Plaintext. U is an ephemeral group
// element and V, W are one-time-pad components.
type Ciphertext struct {
	U *bn256.G1
	V [PlaintextSize]byte
	W [PlaintextSize]byte
}
