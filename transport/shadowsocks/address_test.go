// Copyright 2023 Jigsaw Operations LLC
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
	"net/netip"
	"testing"

	"github.com/shadowsocks/go-shadowsocks2/socks"
	"github.com/stretchr/testify/require"
)

func TestBuildAddressHeader_IPv4(t *testing.T) {
	h, err := AddressHeaderFromHostPort("203.0.113.5:8388")
	require.NoError(t, err)
	require.Equal(t, AddressTypeIPv4, h.Type)

	b, err := BuildAddressHeader(h)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0xCB, 0x00, 0x71, 0x05, 0x20, 0xC4}, b)
	require.Equal(t, h.Len(), len(b))
}

func TestBuildAddressHeader_IPv6(t *testing.T) {
	h, err := AddressHeaderFromHostPort("[2001:db8::1]:443")
	require.NoError(t, err)
	require.Equal(t, AddressTypeIPv6, h.Type)

	b, err := BuildAddressHeader(h)
	require.NoError(t, err)
	require.Len(t, b, 1+16+2)
	require.Equal(t, byte(0x04), b[0])
	require.Equal(t, []byte{0x01, 0xBB}, b[17:])
	require.Equal(t, "[2001:db8::1]:443", h.String())
}

func TestBuildAddressHeader_Domain(t *testing.T) {
	h, err := AddressHeaderFromHostPort("example.com:80")
	require.NoError(t, err)
	require.Equal(t, AddressTypeDomain, h.Type)

	b, err := BuildAddressHeader(h)
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{0x03, 11}, "example.com"...), 0x00, 0x50), b)
	require.Equal(t, "example.com:80", h.String())
}

func TestBuildAddressHeader_Invalid(t *testing.T) {
	_, err := BuildAddressHeader(AddressHeader{Type: AddressTypeIPv4, Address: []byte{1, 2, 3}, Port: 1})
	require.Error(t, err)
	_, err = BuildAddressHeader(AddressHeader{Type: AddressTypeIPv6, Address: make([]byte, 4), Port: 1})
	require.Error(t, err)
	_, err = BuildAddressHeader(AddressHeader{Type: AddressTypeDomain, Port: 1})
	require.Error(t, err)
	_, err = BuildAddressHeader(AddressHeader{Type: AddressTypeDomain, Address: make([]byte, 256), Port: 1})
	require.Error(t, err)
	_, err = BuildAddressHeader(AddressHeader{Type: 0x05, Address: make([]byte, 4), Port: 1})
	require.Error(t, err)
}

func TestAddressHeaderFromHostPort_Invalid(t *testing.T) {
	_, err := AddressHeaderFromHostPort("no-port")
	require.Error(t, err)
	_, err = AddressHeaderFromHostPort("1.2.3.4:70000")
	require.Error(t, err)
}

func TestAddressHeaderFromAddrPort_Unmaps(t *testing.T) {
	h := AddressHeaderFromAddrPort(netip.MustParseAddrPort("[::ffff:10.0.0.1]:53"))
	require.Equal(t, AddressTypeIPv4, h.Type)
	require.Equal(t, []byte{10, 0, 0, 1}, h.Address)
}

func TestParseAddressHeader_RoundTrip(t *testing.T) {
	for _, hostport := range []string{"203.0.113.5:8388", "[2001:db8::1]:443", "example.com:80"} {
		h, err := AddressHeaderFromHostPort(hostport)
		require.NoError(t, err)
		for _, size := range []int{0, 1, 100, 1400} {
			payload := MakeTestPayload(size)
			b, err := BuildAddressHeader(h)
			require.NoError(t, err)
			parsed, rest, err := ParseAddressHeader(append(b, payload...))
			require.NoError(t, err)
			require.Equal(t, h.Type, parsed.Type)
			require.Equal(t, h.Address, parsed.Address)
			require.Equal(t, h.Port, parsed.Port)
			require.Equal(t, payload, append([]byte{}, rest...))
		}
	}
}

// The header must agree with the SOCKS address encoding used by Shadowsocks relays.
func TestParseAddressHeader_MatchesSocks(t *testing.T) {
	for _, hostport := range []string{"203.0.113.5:8388", "[2001:db8::1]:443", "example.com:80"} {
		h, err := AddressHeaderFromHostPort(hostport)
		require.NoError(t, err)
		socksAddr, err := h.SocksAddr()
		require.NoError(t, err)
		require.Equal(t, socks.ParseAddr(hostport), socksAddr)

		buf := append(append([]byte{}, socksAddr...), "payload"...)
		require.Equal(t, len(socksAddr), len(socks.SplitAddr(buf)))
		_, rest, err := ParseAddressHeader(buf)
		require.NoError(t, err)
		require.Equal(t, "payload", string(rest))
	}
}

func TestParseAddressHeader_Short(t *testing.T) {
	ipv4 := []byte{0x01, 0xCB, 0x00, 0x71, 0x05, 0x20, 0xC4}
	ipv6 := append(append([]byte{0x04}, make([]byte, 16)...), 0x01, 0xBB)
	domain := append(append([]byte{0x03, 3}, "abc"...), 0x00, 0x50)
	for _, full := range [][]byte{ipv4, ipv6, domain} {
		for n := 0; n < len(full); n++ {
			// Copy into an exact-size buffer so reading past the end would panic.
			truncated := append([]byte(nil), full[:n]...)
			_, _, err := ParseAddressHeader(truncated)
			require.ErrorIs(t, err, ErrShortHeader, "length %d of %d", n, len(full))
			require.ErrorIs(t, err, ErrDecode)
		}
		_, rest, err := ParseAddressHeader(full)
		require.NoError(t, err)
		require.Empty(t, rest)
	}
}

func TestParseAddressHeader_EmptyDomain(t *testing.T) {
	_, _, err := ParseAddressHeader([]byte{0x03, 0x00, 0x00, 0x50, 'x'})
	require.ErrorIs(t, err, ErrEmptyDomain)
	require.ErrorIs(t, err, ErrDecode)

	// The same header is rejected when building.
	_, err = BuildAddressHeader(AddressHeader{Type: AddressTypeDomain, Port: 80})
	require.Error(t, err)
}

func TestParseAddressHeader_UnknownType(t *testing.T) {
	for _, tag := range []byte{0x00, 0x02, 0x05, 0xff} {
		_, _, err := ParseAddressHeader([]byte{tag, 1, 2, 3, 4, 5, 6, 7, 8})
		require.ErrorIs(t, err, ErrUnknownAddressType)
		require.ErrorIs(t, err, ErrDecode)
	}
}

// Password "p@ss", target 203.0.113.5:8388, payload "hello".
func TestDatagramRoundTrip(t *testing.T) {
	key, err := NewEncryptionKey(RC4MD5, "p@ss")
	require.NoError(t, err)
	h, err := AddressHeaderFromHostPort("203.0.113.5:8388")
	require.NoError(t, err)
	header, err := BuildAddressHeader(h)
	require.NoError(t, err)
	plaintext := append(append([]byte{}, header...), "hello"...)
	require.Equal(t, append([]byte{0x01, 0xCB, 0x00, 0x71, 0x05, 0x20, 0xC4}, "hello"...), plaintext)

	encrypted, err := Pack(make([]byte, len(plaintext)), plaintext, key)
	require.NoError(t, err)
	decrypted, err := Unpack(make([]byte, len(encrypted)), encrypted, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)

	parsed, payload, err := ParseAddressHeader(decrypted)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.5:8388", parsed.String())
	require.Equal(t, "hello", string(payload))
}
