package ibe

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"

	"golang.org/x/crypto/bn256"
)

var (
	errBadCiphertext = errors.New("invalid ciphertext")
	errBadPoint      = errors.New("invalid curve point")
	errBadPrivateKey = errors.New("invalid private key")
)

// Domain separation tags for the scheme's hash functions.
var (
	tagPad   = []byte("bf-h2")
	tagR     = []byte("bf-h3")
	tagSigma = []byte("bf-h4")
)

// Setup generates fresh public parameters and the matching master
// secret. The key issuer calls this once and publishes Params().
func Setup() (*Master, error) {
	s, err := random()
	if err != nil {
		return nil, err
	}
	return MasterFromSecret(s)
}

// MasterFromSecret rebuilds a master from a persisted secret scalar.
func MasterFromSecret(s *big.Int) (*Master, error) {
	if s == nil || s.Sign() <= 0 || s.Cmp(bn256.Order) >= 0 {
		return nil, errors.New("master secret must be in [1, subgroup order)")
	}

	var p, ppub bn256.G1
	p.ScalarBaseMult(big.NewInt(1))
	ppub.ScalarBaseMult(s)

	pointP, err := pointFromG1(&p)
	if err != nil {
		return nil, err
	}
	pointPpub, err := pointFromG1(&ppub)
	if err != nil {
		return nil, err
	}

	return &Master{
		s: s,
		params: Params{
			FieldOrder:    new(big.Int).Set(fieldOrder),
			SubgroupOrder: new(big.Int).Set(bn256.Order),
			PointP:        pointP,
			PointPPublic:  pointPpub,
		},
	}, nil
}

// Master holds the key issuer's secret and the public parameters
// derived from it.
type Master struct {
	s      *big.Int
	params Params
}

// Secret returns the master secret scalar for persistence.
func (m *Master) Secret() *big.Int {
	return new(big.Int).Set(m.s)
}

// Params returns the public system parameters.
func (m *Master) Params() Params { return m.params }

// Extract derives the private key for an identity string. The key is
// d = s * Q_id where Q_id is the identity hashed to the group.
func (m *Master) Extract(id string) (PrivateKey, error) {
	if m == nil || m.s == nil {
		return PrivateKey{}, errors.New("master not initialized")
	}
	k := new(big.Int).Mul(id2scalar(id), m.s)
	k.Mod(k, bn256.Order)

	var d bn256.G2
	d.ScalarBaseMult(k)
	return PrivateKey{D: &d}, nil
}

// PrivateKey decrypts ciphertexts addressed to one identity.
type PrivateKey struct {
	D *bn256.G2
}

// Encrypt encrypts m for the identity id under the given public
// parameters.
func Encrypt(params Params, id string, m Plaintext) (Ciphertext, error) {
	pointP, err := g1FromPoint(params.PointP)
	if err != nil {
		return Ciphertext{}, err
	}
	ppub, err := g1FromPoint(params.PointPPublic)
	if err != nil {
		return Ciphertext{}, err
	}

	var sigma [PlaintextSize]byte
	if _, err := rand.Read(sigma[:]); err != nil {
		return Ciphertext{}, err
	}
	r := scalarFromHash(tagR, sigma[:], m[:])

	var c Ciphertext
	c.U = new(bn256.G1).ScalarMult(pointP, r)

	// g_id^r = e(Ppub, Q_id)^r
	qID := new(bn256.G2).ScalarBaseMult(id2scalar(id))
	gidr := bn256.Pair(ppub, qID)
	gidr.ScalarMult(gidr, r)

	pad := hash(tagPad, gidr.Marshal())
	for i := range sigma {
		c.V[i] = sigma[i] ^ pad[i]
	}
	mask := hash(tagSigma, sigma[:])
	for i := range m {
		c.W[i] = m[i] ^ mask[i]
	}
	return c, nil
}

// Decrypt recovers the plaintext from c using the identity's private
// key. It rejects ciphertexts whose ephemeral point does not match
// the recomputed randomness.
func Decrypt(params Params, key PrivateKey, c Ciphertext) (Plaintext, error) {
	var m Plaintext
	if key.D == nil {
		return m, errBadPrivateKey
	}
	if c.U == nil {
		return m, errBadCiphertext
	}
	pointP, err := g1FromPoint(params.PointP)
	if err != nil {
		return m, err
	}

	pad := hash(tagPad, bn256.Pair(c.U, key.D).Marshal())
	var sigma [PlaintextSize]byte
	for i := range sigma {
		sigma[i] = c.V[i] ^ pad[i]
	}
	mask := hash(tagSigma, sigma[:])
	for i := range m {
		m[i] = c.W[i] ^ mask[i]
	}

	// U must equal r*P for the recomputed r, otherwise the ciphertext
	// was not produced by Encrypt.
	r := scalarFromHash(tagR, sigma[:], m[:])
	expected := new(bn256.G1).ScalarMult(pointP, r)
	if !bytes.Equal(expected.Marshal(), c.U.Marshal()) {
		return Plaintext{}, errBadCiphertext
	}
	return m, nil
}

// random returns a positive integer in the range [1, bn256.Order).
func random() (*big.Int, error) {
	for {
		k, err := rand.Int(rand.Reader, bn256.Order)
		if err != nil {
			return nil, err
		}
		if k.Sign() > 0 {
			return k, nil
		}
	}
}

func id2scalar(id string) *big.Int {
	h := sha256.Sum256([]byte(id))
	k := new(big.Int).SetBytes(h[:])
	return k.Mod(k, bn256.Order)
}

func hash(tag []byte, parts ...[]byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write(tag)
	for _, p := range parts {
		h.Write(p)
	}
	var out [sha256.Size]byte
	h.Sum(out[:0])
	return out
}

func scalarFromHash(tag []byte, parts ...[]byte) *big.Int {
	sum := hash(tag, parts...)
	k := new(big.Int).SetBytes(sum[:])
	return k.Mod(k, bn256.Order)
}
