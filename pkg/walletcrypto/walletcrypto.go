// Package walletcrypto decrypts the signer's private key from an
// environment-supplied ciphertext at process start. It is deliberately
// thin: a process needs to turn ENC_PK+KEY into a usable key before it can
// construct a Signer, nothing more.
package walletcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Decrypt reverses AES-256-GCM encryption of a hex-encoded private key.
// ciphertext is hex(nonce || sealed), key must be 32 bytes.
func Decrypt(key []byte, ciphertext string) (string, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("walletcrypto: invalid ciphertext encoding: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("walletcrypto: invalid key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("walletcrypto: failed to build GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("walletcrypto: ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("walletcrypto: decryption failed: %w", err)
	}
	return string(plain), nil
}

// LoadPrivateKey decrypts and parses a hex-encoded ECDSA private key.
func LoadPrivateKey(key []byte, ciphertext string) (*ecdsa.PrivateKey, error) {
	hexKey, err := Decrypt(key, ciphertext)
	if err != nil {
		return nil, err
	}
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("walletcrypto: invalid private key hex: %w", err)
	}
	return pk, nil
}

// Hex2Bytes strips an optional "0x" prefix and decodes the remaining hex.
func Hex2Bytes(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("walletcrypto: invalid hex %q: %w", s, err)
	}
	return b, nil
}
