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
	"errors"
	"io"
)

// Pack encrypts a tunnel datagram (address header and payload) and returns a slice of dst containing the ciphertext.
// dst must be at least as long as plaintext. If dst is nil, encryption proceeds in-place.
// plaintext and dst may overlap only if they are aligned.
//
// Each call starts a new keystream, so the same plaintext and key always produce the same ciphertext.
func Pack(dst, plaintext []byte, key *EncryptionKey) ([]byte, error) {
	return xorKeyStream(dst, plaintext, key)
}

// Unpack decrypts a tunnel datagram and returns a slice of dst containing the plaintext.
// If dst is nil, decryption proceeds in-place.
//
// Datagrams can be unpacked in any order, since no keystream position is kept between calls.
func Unpack(dst, pkt []byte, key *EncryptionKey) ([]byte, error) {
	return xorKeyStream(dst, pkt, key)
}

func xorKeyStream(dst, src []byte, key *EncryptionKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("argument key must not be nil")
	}
	if dst == nil {
		dst = src
	}
	if len(dst) < len(src) {
		return nil, io.ErrShortBuffer
	}
	stream, err := key.NewStream()
	if err != nil {
		return nil, err
	}
	dst = dst[:len(src)]
	stream.XORKeyStream(dst, src)
	return dst, nil
}
