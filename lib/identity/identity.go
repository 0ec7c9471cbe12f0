// Package identity holds the signing identity of a client and the verification of
// signed mutations on the store side.
//
// An identity is an ed25519 key pair. Its address is "0x" followed by the hex encoding of the
// first 20 bytes of the public key. Every mutation carries a Tx whose token is an EdDSA JWT
// binding the sender address, nonce, operation and the store.TxDigest of the arguments.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/golang-jwt/jwt/v5"
)

// AddressLen is the number of public key bytes used for the address
const AddressLen = 20

// Identity is a signing key pair
type Identity struct {
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	address string
}

// txClaims are the claims of a Tx token
type txClaims struct {
	Nonce  uint64 `json:"nonce"`
	Op     string `json:"op"`
	Digest string `json:"dig"`
	PubKey string `json:"pub"`
	jwt.RegisteredClaims
}

// Generate creates a new random identity
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, store.Errorf(store.RetCConfiguration, "generating identity: %s", err)
	}
	return fromPrivate(priv), nil
}

// FromHex restores an identity from its hex encoded 32 byte seed. A "0x" prefix is accepted.
func FromHex(seed string) (*Identity, error) {
	seed = strings.TrimPrefix(strings.TrimSpace(seed), "0x")
	if seed == "" {
		return nil, store.NewError(store.RetCConfiguration, "private key is not configured")
	}
	raw, err := hex.DecodeString(seed)
	if err != nil {
		return nil, store.Errorf(store.RetCConfiguration, "private key is not valid hex: %s", err)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, store.Errorf(store.RetCConfiguration, "private key must be %d bytes, got %d", ed25519.SeedSize, len(raw))
	}
	return fromPrivate(ed25519.NewKeyFromSeed(raw)), nil
}

func fromPrivate(priv ed25519.PrivateKey) *Identity {
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{priv: priv, pub: pub, address: AddressOf(pub)}
}

// AddressOf derives the address of a public key
func AddressOf(pub ed25519.PublicKey) string {
	if len(pub) < AddressLen {
		return ""
	}
	return "0x" + hex.EncodeToString(pub[:AddressLen])
}

// Address returns the account address
func (i *Identity) Address() string { return i.address }

// PublicKey returns the public half of the key pair
func (i *Identity) PublicKey() ed25519.PublicKey { return i.pub }

// SeedHex returns the hex encoded seed, suitable for FromHex
func (i *Identity) SeedHex() string {
	return "0x" + hex.EncodeToString(i.priv.Seed())
}

// Sign authorizes op on digest with the given nonce and returns the Tx to submit
func (i *Identity) Sign(op store.Op, digest string, nonce uint64) (store.Tx, error) {
	claims := txClaims{
		Nonce:  nonce,
		Op:     op.String(),
		Digest: digest,
		PubKey: base64.RawURLEncoding.EncodeToString(i.pub),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: i.address,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.priv)
	if err != nil {
		return store.Tx{}, store.Errorf(store.RetCInternalError, "signing %s: %s", op, err)
	}
	return store.Tx{From: i.address, Nonce: nonce, Token: token}, nil
}

// VerifyTx checks that tx carries a valid token of its sender for op on digest.
// It satisfies store.TxVerifier.
func VerifyTx(tx store.Tx, op store.Op, digest string) error {
	if tx.Token == "" {
		return store.NewError(store.RetCStore, "missing transaction signature")
	}

	claims := &txClaims{}
	_, err := jwt.ParseWithClaims(tx.Token, claims, func(t *jwt.Token) (any, error) {
		c, ok := t.Claims.(*txClaims)
		if !ok {
			return nil, store.NewError(store.RetCStore, "unexpected claims")
		}
		raw, err := base64.RawURLEncoding.DecodeString(c.PubKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, store.NewError(store.RetCStore, "invalid public key in signature")
		}
		pub := ed25519.PublicKey(raw)
		if AddressOf(pub) != tx.From {
			return nil, store.NewError(store.RetCStore, "signer does not match sender")
		}
		return pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return store.Errorf(store.RetCStore, "invalid transaction signature: %s", err)
	}

	switch {
	case claims.Subject != tx.From:
		return store.NewError(store.RetCStore, "invalid transaction signature: subject mismatch")
	case claims.Nonce != tx.Nonce:
		return store.NewError(store.RetCStore, "invalid transaction signature: nonce mismatch")
	case claims.Op != op.String():
		return store.NewError(store.RetCStore, "invalid transaction signature: op mismatch")
	case claims.Digest != digest:
		return store.NewError(store.RetCStore, "invalid transaction signature: digest mismatch")
	}
	return nil
}
