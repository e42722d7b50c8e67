package ibe

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bn256"
)

const (
	coordSize       = 32
	marshaledG1Size = 2 * coordSize
	marshaledG2Size = 4 * coordSize
	marshaledG2Half = marshaledG2Size / 2
)

func pointFromG1(g *bn256.G1) (Point, error) {
	raw := g.Marshal()
	if len(raw) != marshaledG1Size {
		return Point{}, fmt.Errorf("bn256.G1.Marshal returned %d bytes, expected %d", len(raw), marshaledG1Size)
	}
	return Point{
		X: new(big.Int).SetBytes(raw[:coordSize]),
		Y: new(big.Int).SetBytes(raw[coordSize:]),
	}, nil
}

func g1FromPoint(p Point) (*bn256.G1, error) {
	if p.X == nil || p.Y == nil {
		return nil, errBadPoint
	}
	var raw [marshaledG1Size]byte
	if err := fillCoord(raw[:coordSize], p.X); err != nil {
		return nil, err
	}
	if err := fillCoord(raw[coordSize:], p.Y); err != nil {
		return nil, err
	}
	g := new(bn256.G1)
	if _, ok := g.Unmarshal(raw[:]); !ok {
		return nil, errBadPoint
	}
	return g, nil
}

func fillCoord(dst []byte, v *big.Int) error {
	b := v.Bytes()
	if v.Sign() < 0 || len(b) > len(dst) {
		return errBadPoint
	}
	copy(dst[len(dst)-len(b):], b)
	return nil
}

// Components returns the ciphertext as hex strings: the two affine
// coordinates of U followed by the V and W pads.
func (c Ciphertext) Components() (ux, uy, v, w string, err error) {
	if c.U == nil {
		return "", "", "", "", errBadCiphertext
	}
	raw := c.U.Marshal()
	if len(raw) != marshaledG1Size {
		return "", "", "", "", errBadCiphertext
	}
	return hex.EncodeToString(raw[:coordSize]),
		hex.EncodeToString(raw[coordSize:]),
		hex.EncodeToString(c.V[:]),
		hex.EncodeToString(c.W[:]),
		nil
}

// ParseCiphertext rebuilds a ciphertext from its hex components.
func ParseCiphertext(ux, uy, v, w string) (Ciphertext, error) {
	var c Ciphertext

	x, err := decodeHex(ux, coordSize)
	if err != nil {
		return c, fmt.Errorf("cipher u.x: %w", err)
	}
	y, err := decodeHex(uy, coordSize)
	if err != nil {
		return c, fmt.Errorf("cipher u.y: %w", err)
	}
	raw := append(x, y...)
	c.U = new(bn256.G1)
	if _, ok := c.U.Unmarshal(raw); !ok {
		return Ciphertext{}, errBadCiphertext
	}

	pv, err := decodeHex(v, PlaintextSize)
	if err != nil {
		return Ciphertext{}, fmt.Errorf("cipher v: %w", err)
	}
	pw, err := decodeHex(w, PlaintextSize)
	if err != nil {
		return Ciphertext{}, fmt.Errorf("cipher w: %w", err)
	}
	copy(c.V[:], pv)
	copy(c.W[:], pw)
	return c, nil
}

// Components returns the private key as two opaque hex halves of the
// marshaled group element.
func (k PrivateKey) Components() (x, y string, err error) {
	if k.D == nil {
		return "", "", errBadPrivateKey
	}
	raw := k.D.Marshal()
	if len(raw) != marshaledG2Size {
		return "", "", errBadPrivateKey
	}
	return hex.EncodeToString(raw[:marshaledG2Half]), hex.EncodeToString(raw[marshaledG2Half:]), nil
}

// ParsePrivateKey rebuilds a private key from its hex halves.
func ParsePrivateKey(x, y string) (PrivateKey, error) {
	bx, err := decodeHex(x, marshaledG2Half)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("key x: %w", err)
	}
	by, err := decodeHex(y, marshaledG2Half)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("key y: %w", err)
	}
	d := new(bn256.G2)
	if _, ok := d.Unmarshal(append(bx, by...)); !ok {
		return PrivateKey{}, errBadPrivateKey
	}
	return PrivateKey{D: d}, nil
}

func decodeHex(s string, size int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("expected %d bytes, got %d", size, len(b))
	}
	return b, nil
}
