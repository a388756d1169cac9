// Package ecies implements secp256k1 ECIES in the layout used by the
// eccrypto family of libraries: ECDH over an ephemeral key, SHA-512 key
// derivation, AES-256-CBC and an HMAC-SHA256 tag.
package ecies

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Field sizes of a payload
const (
	IVSize             = 16
	EphemPublicKeySize = 65
	MACSize            = 32
)

// Error definitions
var (
	ErrInvalidMessage = errors.New("not a valid ECIES message")
	ErrBadMAC         = errors.New("error decrypting message: bad MAC")
	ErrBadPadding     = errors.New("error decrypting message: bad padding")
	ErrInvalidKey     = errors.New("invalid secp256k1 key")
)

// Payload is an encrypted message. The byte fields encode as 0x-prefixed
// hex in JSON.
type Payload struct {
	IV             hexutil.Bytes `json:"iv"`
	EphemPublicKey hexutil.Bytes `json:"ephemPublicKey"`
	Ciphertext     hexutil.Bytes `json:"ciphertext"`
	MAC            hexutil.Bytes `json:"mac"`
}

// IsValidShape reports whether p has the exact field lengths of a payload.
// It performs no cryptographic checks.
func IsValidShape(p *Payload) bool {
	return p != nil &&
		len(p.IV) == IVSize &&
		len(p.EphemPublicKey) == EphemPublicKeySize &&
		p.EphemPublicKey[0] == 0x04 &&
		len(p.MAC) == MACSize
}

// Bytes serializes p as iv || ephemPublicKey || ciphertext || mac.
func (p *Payload) Bytes() []byte {
	out := make([]byte, 0, IVSize+EphemPublicKeySize+len(p.Ciphertext)+MACSize)
	out = append(out, p.IV...)
	out = append(out, p.EphemPublicKey...)
	out = append(out, p.Ciphertext...)
	out = append(out, p.MAC...)
	return out
}

// Hex returns Bytes as lowercase hex without prefix.
func (p *Payload) Hex() string {
	return hex.EncodeToString(p.Bytes())
}

// Parse splits a serialized payload.
func Parse(data []byte) (*Payload, error) {
	if len(data) < IVSize+EphemPublicKeySize+MACSize {
		return nil, ErrInvalidMessage
	}
	macStart := len(data) - MACSize
	p := &Payload{
		IV:             append([]byte(nil), data[:IVSize]...),
		EphemPublicKey: append([]byte(nil), data[IVSize:IVSize+EphemPublicKeySize]...),
		Ciphertext:     append([]byte(nil), data[IVSize+EphemPublicKeySize:macStart]...),
		MAC:            append([]byte(nil), data[macStart:]...),
	}
	if !IsValidShape(p) {
		return nil, ErrInvalidMessage
	}
	return p, nil
}

// ParseHex parses a hex serialized payload, with or without 0x prefix.
func ParseHex(s string) (*Payload, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, ErrInvalidMessage
	}
	return Parse(data)
}

// ParsePublicKey accepts a compressed (33), uncompressed (65) or raw (64)
// public key, hex encoded with or without 0x prefix.
func ParsePublicKey(s string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) == 64 {
		raw = append([]byte{0x04}, raw...)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

// Encrypt encrypts plaintext to pub under a fresh ephemeral key.
func Encrypt(pub *secp256k1.PublicKey, plaintext []byte) (*Payload, error) {
	return encrypt(rand.Reader, pub, plaintext)
}

func encrypt(random io.Reader, pub *secp256k1.PublicKey, plaintext []byte) (*Payload, error) {
	if pub == nil {
		return nil, ErrInvalidKey
	}

	// 1. Ephemeral key and shared secret
	ephemBytes := make([]byte, 32)
	var ephem *secp256k1.PrivateKey
	for {
		if _, err := io.ReadFull(random, ephemBytes); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
		}
		var scalar secp256k1.ModNScalar
		if overflow := scalar.SetByteSlice(ephemBytes); !overflow && !scalar.IsZero() {
			ephem = secp256k1.NewPrivateKey(&scalar)
			break
		}
	}
	encKey, macKey := deriveKeys(secp256k1.GenerateSharedSecret(ephem, pub))

	// 2. AES-256-CBC with PKCS#7 padding
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(random, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	padded := pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	// 3. Authenticate iv || ephemPublicKey || ciphertext
	ephemPub := ephem.PubKey().SerializeUncompressed()
	return &Payload{
		IV:             iv,
		EphemPublicKey: ephemPub,
		Ciphertext:     ciphertext,
		MAC:            tag(macKey, iv, ephemPub, ciphertext),
	}, nil
}

// Decrypt authenticates and decrypts p with priv. Structural problems are
// reported as ErrInvalidMessage before any key agreement.
func Decrypt(priv *secp256k1.PrivateKey, p *Payload) ([]byte, error) {
	if !IsValidShape(p) || len(p.Ciphertext) == 0 || len(p.Ciphertext)%aes.BlockSize != 0 {
		return nil, ErrInvalidMessage
	}
	if priv == nil {
		return nil, ErrInvalidKey
	}

	ephemPub, err := secp256k1.ParsePubKey(p.EphemPublicKey)
	if err != nil {
		return nil, ErrInvalidMessage
	}
	encKey, macKey := deriveKeys(secp256k1.GenerateSharedSecret(priv, ephemPub))

	if !hmac.Equal(p.MAC, tag(macKey, p.IV, p.EphemPublicKey, p.Ciphertext)) {
		return nil, ErrBadMAC
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	padded := make([]byte, len(p.Ciphertext))
	cipher.NewCBCDecrypter(block, p.IV).CryptBlocks(padded, p.Ciphertext)
	return unpad(padded, aes.BlockSize)
}

func deriveKeys(shared []byte) (encKey, macKey []byte) {
	h := sha512.Sum512(shared)
	return h[:32], h[32:]
}

func tag(macKey, iv, ephemPub, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write(iv)
	mac.Write(ephemPub)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-n], nil
}
