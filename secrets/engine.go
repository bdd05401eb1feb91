package secrets

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
)

var ErrNotReady = errors.New("encryption engine not initialized")
var ErrDecryptFailed = errors.New("unable to decrypt data with the current key")

// Engine encrypts and decrypts opaque secret strings with a
// process-wide AES-256 key. Ciphertext and iv are hex encoded so they
// can be stored in plain text columns. A nil Engine rejects every
// operation with ErrNotReady.
type Engine struct {
	key []byte
}

func NewEngine(hexKey string) (*Engine, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.New("encryption key must be hex encoded")
	}
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes (64 hex characters)")
	}
	return &Engine{key: key}, nil
}

// GenerateKey returns a fresh random key suitable for NewEngine.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// Encrypt encrypts plaintext under a fresh random iv and returns both.
func (e *Engine) Encrypt(plaintext string) (string, string, error) {
	if e == nil {
		return "", "", ErrNotReady
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", "", err
	}
	ciphertext, err := e.encrypt([]byte(plaintext), iv)
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(ciphertext), hex.EncodeToString(iv), nil
}

// EncryptWithIV encrypts plaintext under an iv produced by an earlier
// Encrypt call in the same row write. Rows store a single iv, so a
// second secret written alongside the first must share it.
func (e *Engine) EncryptWithIV(plaintext, ivHex string) (string, error) {
	if e == nil {
		return "", ErrNotReady
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", errors.New("invalid iv")
	}
	ciphertext, err := e.encrypt([]byte(plaintext), iv)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ciphertext), nil
}

func (e *Engine) encrypt(plaintext, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// Decrypt reverses Encrypt. A key or iv that does not match what
// produced the ciphertext yields ErrDecryptFailed, never a panic, so
// rows with rotted key material stay readable for their metadata.
func (e *Engine) Decrypt(ciphertextHex, ivHex string) (string, error) {
	if e == nil {
		return "", ErrNotReady
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", ErrDecryptFailed
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrDecryptFailed
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrDecryptFailed
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	plaintext, ok := unpad(out, aes.BlockSize)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

func pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, size int) ([]byte, bool) {
	if len(data) == 0 || len(data)%size != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
