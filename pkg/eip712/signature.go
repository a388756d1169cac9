package eip712

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Digest computes the EIP-712 signing hash of a typed message:
// keccak256(0x19 0x01 || domainSeparator || hashStruct(message))
func Digest(td *TypedMessage) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// Byte-level concatenation, not string concat
	rawData := make([]byte, 0, 66) // 2 + 32 + 32
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, messageHash...)

	return crypto.Keccak256(rawData), nil
}

// FormatForContract returns a copy of sig with a 0/1 recovery byte moved to
// 27/28. Any other recovery byte is left as is.
func FormatForContract(sig []byte) ([]byte, error) {
	if len(sig) != SignatureLength {
		return nil, ErrInvalidSignatureLen
	}
	out := make([]byte, SignatureLength)
	copy(out, sig)
	if out[64] == 0 || out[64] == 1 {
		out[64] += 27
	}
	return out, nil
}

// RecoverSigner returns the address that produced sig over td.
func RecoverSigner(td *TypedMessage, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrInvalidSignatureLen
	}

	digest, err := Digest(td)
	if err != nil {
		return common.Address{}, err
	}

	// Normalize v value (27/28 -> 0/1)
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// Verify reports whether sig over td was produced by address.
func Verify(td *TypedMessage, sig []byte, address common.Address) (bool, error) {
	recovered, err := RecoverSigner(td, sig)
	if err != nil {
		return false, err
	}
	return recovered == address, nil
}
