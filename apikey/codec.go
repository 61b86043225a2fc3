package apikey

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the required length of both the secret key (cipher key) and the
// access key (IV). Fixed so issued keys stay decryptable across processes
// and releases.
const KeySize = 16

var (
	ErrKeySize      = errors.New("apikey: secret and access keys must be exactly 16 bytes")
	ErrMalformedKey = errors.New("apikey: malformed key material")
)

// Codec encrypts opaque identifiers into API key payloads and back.
type Codec struct {
	secret []byte
	access []byte
}

func NewCodec(secretKey, accessKey string) (*Codec, error) {
	if len(secretKey) != KeySize || len(accessKey) != KeySize {
		return nil, ErrKeySize
	}
	return &Codec{secret: []byte(secretKey), access: []byte(accessKey)}, nil
}

// Encrypt right-justifies identifier with spaces to the AES block size and
// returns the hex-encoded CBC ciphertext.
func (c *Codec) Encrypt(identifier string) (string, error) {
	block, err := aes.NewCipher(c.secret)
	if err != nil {
		return "", err
	}
	plain := pad([]byte(identifier))
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, c.access).CryptBlocks(out, plain)
	return hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt and strips the leading space padding.
func (c *Codec) Decrypt(encoded string) (string, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", ErrMalformedKey
	}
	block, err := aes.NewCipher(c.secret)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, c.access).CryptBlocks(out, raw)
	return strings.TrimLeft(string(out), " "), nil
}

func pad(b []byte) []byte {
	n := ((len(b) + aes.BlockSize - 1) / aes.BlockSize) * aes.BlockSize
	if n == 0 {
		n = aes.BlockSize
	}
	if n == len(b) {
		return b
	}
	padded := make([]byte, n)
	for i := 0; i < n-len(b); i++ {
		padded[i] = ' '
	}
	copy(padded[n-len(b):], b)
	return padded
}

// WrapKey attaches the cleartext routing prefix and suffix to a ciphertext
// payload. Neither is part of the encrypted material.
func WrapKey(payload, prefix, suffix string) string {
	return prefix + payload + suffix
}

// UnwrapKey strips prefix and suffix without validating them.
func UnwrapKey(key, prefix, suffix string) string {
	key = strings.TrimPrefix(key, prefix)
	if suffix != "" {
		key = strings.TrimSuffix(key, suffix)
	}
	return key
}
