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
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/shadowsocks/go-shadowsocks2/socks"
)

// AddressType identifies the encoding of the address in an [AddressHeader]. The values are the SOCKS5 ATYP values.
type AddressType byte

const (
	AddressTypeIPv4   = AddressType(socks.AtypIPv4)
	AddressTypeDomain = AddressType(socks.AtypDomainName)
	AddressTypeIPv6   = AddressType(socks.AtypIPv6)
)

func (t AddressType) String() string {
	switch t {
	case AddressTypeIPv4:
		return "IPv4"
	case AddressTypeDomain:
		return "Domain"
	case AddressTypeIPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("AddressType(%#02x)", byte(t))
	}
}

const (
	maxDomainLen = 255
	portLen      = 2
)

// Decode errors. All of them wrap ErrDecode.
var (
	ErrDecode             = errors.New("failed to decode address header")
	ErrUnknownAddressType = fmt.Errorf("%w: unknown address type", ErrDecode)
	ErrShortHeader        = fmt.Errorf("%w: buffer too short", ErrDecode)
	ErrEmptyDomain        = fmt.Errorf("%w: empty domain", ErrDecode)
)

// AddressHeader identifies the real destination of a tunnel datagram. It is encoded in front of every payload as
//
//	[1 byte type][address][2 bytes port, big-endian]
//
// where address is 4 bytes for IPv4, 16 bytes for IPv6, or a length byte followed by the name for a domain.
type AddressHeader struct {
	Type    AddressType
	Address []byte
	Port    uint16
}

// AddressHeaderFromHostPort builds an [AddressHeader] from a "host:port" string. IP hosts use their raw encoding
// (IPv4-mapped IPv6 addresses are unmapped); anything else is treated as a domain name.
func AddressHeaderFromHostPort(hostport string) (AddressHeader, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return AddressHeader{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return AddressHeader{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return AddressHeaderFromAddrPort(netip.AddrPortFrom(ip, uint16(port))), nil
	}
	h := AddressHeader{Type: AddressTypeDomain, Address: []byte(host), Port: uint16(port)}
	if err := h.validate(); err != nil {
		return AddressHeader{}, err
	}
	return h, nil
}

// AddressHeaderFromAddrPort builds an IPv4 or IPv6 [AddressHeader].
func AddressHeaderFromAddrPort(ap netip.AddrPort) AddressHeader {
	ip := ap.Addr().Unmap()
	if ip.Is4() {
		a := ip.As4()
		return AddressHeader{Type: AddressTypeIPv4, Address: a[:], Port: ap.Port()}
	}
	a := ip.As16()
	return AddressHeader{Type: AddressTypeIPv6, Address: a[:], Port: ap.Port()}
}

func (h AddressHeader) validate() error {
	switch h.Type {
	case AddressTypeIPv4:
		if len(h.Address) != net.IPv4len {
			return fmt.Errorf("IPv4 address must be %d bytes, got %d", net.IPv4len, len(h.Address))
		}
	case AddressTypeIPv6:
		if len(h.Address) != net.IPv6len {
			return fmt.Errorf("IPv6 address must be %d bytes, got %d", net.IPv6len, len(h.Address))
		}
	case AddressTypeDomain:
		if len(h.Address) == 0 || len(h.Address) > maxDomainLen {
			return fmt.Errorf("domain must be 1 to %d bytes, got %d", maxDomainLen, len(h.Address))
		}
	default:
		return fmt.Errorf("unsupported address type %v", h.Type)
	}
	return nil
}

// Len returns the encoded length of the header.
func (h AddressHeader) Len() int {
	n := 1 + len(h.Address) + portLen
	if h.Type == AddressTypeDomain {
		n++
	}
	return n
}

// String returns the header destination as "host:port".
func (h AddressHeader) String() string {
	var host string
	switch h.Type {
	case AddressTypeIPv4, AddressTypeIPv6:
		if ip, ok := netip.AddrFromSlice(h.Address); ok {
			host = ip.String()
		}
	case AddressTypeDomain:
		host = string(h.Address)
	}
	return net.JoinHostPort(host, strconv.Itoa(int(h.Port)))
}

// BuildAddressHeader encodes h. The result only depends on h.
func BuildAddressHeader(h AddressHeader) ([]byte, error) {
	return AppendAddressHeader(make([]byte, 0, h.Len()), h)
}

// AppendAddressHeader appends the encoding of h to dst and returns the extended buffer.
func AppendAddressHeader(dst []byte, h AddressHeader) ([]byte, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	dst = append(dst, byte(h.Type))
	if h.Type == AddressTypeDomain {
		dst = append(dst, byte(len(h.Address)))
	}
	dst = append(dst, h.Address...)
	return binary.BigEndian.AppendUint16(dst, h.Port), nil
}

// ParseAddressHeader decodes the header at the start of buf and returns it together with the remaining bytes.
// It never reads past the end of buf. The returned Address and remainder alias buf.
//
// The error wraps [ErrUnknownAddressType], [ErrShortHeader] or [ErrEmptyDomain].
func ParseAddressHeader(buf []byte) (AddressHeader, []byte, error) {
	if len(buf) < 1 {
		return AddressHeader{}, nil, ErrShortHeader
	}
	h := AddressHeader{Type: AddressType(buf[0])}
	off := 1
	switch h.Type {
	case AddressTypeIPv4, AddressTypeIPv6:
	case AddressTypeDomain:
		off++
	default:
		return AddressHeader{}, nil, fmt.Errorf("%w %#02x", ErrUnknownAddressType, buf[0])
	}
	addr := socks.SplitAddr(buf)
	if addr == nil {
		return AddressHeader{}, nil, fmt.Errorf("%w: truncated %v header of %d bytes", ErrShortHeader, h.Type, len(buf))
	}
	end := len(addr) - portLen
	if end == off {
		return AddressHeader{}, nil, ErrEmptyDomain
	}
	h.Address = buf[off:end]
	h.Port = binary.BigEndian.Uint16(buf[end:len(addr)])
	return h, buf[len(addr):], nil
}

// SocksAddr returns the header as a [socks.Addr].
func (h AddressHeader) SocksAddr() (socks.Addr, error) {
	b, err := BuildAddressHeader(h)
	if err != nil {
		return nil, err
	}
	return socks.Addr(b), nil
}
