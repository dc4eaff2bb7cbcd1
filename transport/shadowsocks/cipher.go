// Copyright 2020 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shadowsocks

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20"
)

// ErrKeySize is returned when a raw key does not match the key size of its cipher.
var ErrKeySize = errors.New("invalid key size")

// Cipher is a stream cipher usable for the datagram tunnel. Every keystream it creates starts from the beginning
// of the key schedule, so datagrams can be encrypted and decrypted independently of each other.
type Cipher struct {
	name      string
	keySize   int
	newStream func(key []byte) (cipher.Stream, error)
}

// List of supported stream ciphers.
var (
	RC4MD5       = &Cipher{"rc4-md5", 16, newRC4MD5}
	CHACHA20IETF = &Cipher{"chacha20-ietf", chacha20.KeySize, newChacha20IETF}
	AES128CTR    = &Cipher{"aes-128-ctr", 16, newAESCTR}
	AES192CTR    = &Cipher{"aes-192-ctr", 24, newAESCTR}
	AES256CTR    = &Cipher{"aes-256-ctr", 32, newAESCTR}
)

var supportedCiphers = [](*Cipher){RC4MD5, CHACHA20IETF, AES128CTR, AES192CTR, AES256CTR}

// CipherByName returns a [*Cipher] with the given name, or an error if the cipher is not supported.
// Names are matched case-insensitively.
func CipherByName(name string) (*Cipher, error) {
	for _, c := range supportedCiphers {
		if strings.EqualFold(c.name, name) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unsupported cipher %v", name)
}

// Name returns the canonical name of the cipher.
func (c *Cipher) Name() string {
	return c.name
}

// KeySize is the size of the key for this Cipher.
func (c *Cipher) KeySize() int {
	return c.keySize
}

func (c *Cipher) String() string {
	return c.name
}

// rc4-md5 with an empty IV: the RC4 key is MD5(key).
func newRC4MD5(key []byte) (cipher.Stream, error) {
	sum := md5.Sum(key)
	return rc4.NewCipher(sum[:])
}

var zeroNonce [chacha20.NonceSize]byte

func newChacha20IETF(key []byte) (cipher.Stream, error) {
	return chacha20.NewUnauthenticatedCipher(key, zeroNonce[:])
}

func newAESCTR(key []byte) (cipher.Stream, error) {
	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(blk, make([]byte, blk.BlockSize())), nil
}

// EncryptionKey encapsulates a stream [Cipher] and a secret.
// It holds no keystream state and is safe for concurrent use.
type EncryptionKey struct {
	cipher *Cipher
	secret []byte
}

// Cipher returns the cipher this key is used with.
func (k *EncryptionKey) Cipher() *Cipher {
	return k.cipher
}

// KeySize is the size of the key for this Cipher
func (k *EncryptionKey) KeySize() int {
	return k.cipher.keySize
}

// NewStream creates a fresh keystream positioned at its start.
func (k *EncryptionKey) NewStream() (cipher.Stream, error) {
	return k.cipher.newStream(k.secret)
}

// Function definition at https://www.openssl.org/docs/manmaster/man3/EVP_BytesToKey.html
func simpleEVPBytesToKey(data []byte, keyLen int) ([]byte, error) {
	var derived, di []byte
	h := md5.New()
	for len(derived) < keyLen {
		_, err := h.Write(di)
		if err != nil {
			return nil, err
		}
		_, err = h.Write(data)
		if err != nil {
			return nil, err
		}
		derived = h.Sum(derived)
		di = derived[len(derived)-h.Size():]
		h.Reset()
	}
	return derived[:keyLen], nil
}

// NewEncryptionKey creates an [EncryptionKey] given a cipher and a password. The key is derived with
// EVP_BytesToKey(MD5), so the same password always yields the same key.
func NewEncryptionKey(cipher *Cipher, secretText string) (*EncryptionKey, error) {
	if cipher == nil {
		return nil, errors.New("argument cipher must not be nil")
	}
	secret, err := simpleEVPBytesToKey([]byte(secretText), cipher.keySize)
	if err != nil {
		return nil, err
	}
	return NewEncryptionKeyFromSecret(cipher, secret)
}

// NewEncryptionKeyFromSecret creates an [EncryptionKey] from a raw key, which must be exactly cipher.KeySize() bytes.
func NewEncryptionKeyFromSecret(cipher *Cipher, secret []byte) (*EncryptionKey, error) {
	if cipher == nil {
		return nil, errors.New("argument cipher must not be nil")
	}
	if len(secret) != cipher.keySize {
		return nil, fmt.Errorf("%w: %v requires %d bytes, got %d", ErrKeySize, cipher.name, cipher.keySize, len(secret))
	}
	key := &EncryptionKey{cipher: cipher, secret: append([]byte(nil), secret...)}
	// Fail here rather than on the first datagram.
	if _, err := key.NewStream(); err != nil {
		return nil, fmt.Errorf("failed to create %v keystream: %w", cipher.name, err)
	}
	return key, nil
}
