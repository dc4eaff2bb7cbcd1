// Copyright 2023 The Outline Authors
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

// Package arp answers ARP requests on behalf of a gateway address that no real host holds.
package arp

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Responder builds spoofed ARP replies that claim a gateway IP for a made-up hardware address, so that the host
// behind the adapter sends its routed traffic to the adapter. It keeps no state between requests.
type Responder struct {
	localIP    netip.Addr
	gatewayIP  netip.Addr
	spoofedMAC net.HardwareAddr
}

// NewResponder creates a [Responder] that answers requests from localIP asking for gatewayIP with spoofedMAC.
func NewResponder(localIP, gatewayIP netip.Addr, spoofedMAC net.HardwareAddr) (*Responder, error) {
	if !localIP.Is4() {
		return nil, fmt.Errorf("local IP %v is not an IPv4 address", localIP)
	}
	if !gatewayIP.Is4() {
		return nil, fmt.Errorf("gateway IP %v is not an IPv4 address", gatewayIP)
	}
	if len(spoofedMAC) != 6 {
		return nil, errors.New("spoofed MAC must be an EUI-48 address")
	}
	return &Responder{
		localIP:    localIP,
		gatewayIP:  gatewayIP,
		spoofedMAC: bytes.Clone(spoofedMAC),
	}, nil
}

// SpoofedMAC returns the hardware address claimed for the gateway.
func (r *Responder) SpoofedMAC() net.HardwareAddr {
	return r.spoofedMAC
}

// Matches reports whether req is an Ethernet/IPv4 ARP request sent from the local IP for the gateway IP. Any other
// combination of sender and target is not answered.
func (r *Responder) Matches(req *layers.ARP) bool {
	if req.Operation != layers.ARPRequest ||
		req.AddrType != layers.LinkTypeEthernet || req.Protocol != layers.EthernetTypeIPv4 ||
		len(req.SourceHwAddress) != 6 {
		return false
	}
	sender, ok := netip.AddrFromSlice(req.SourceProtAddress)
	if !ok || sender != r.localIP {
		return false
	}
	target, ok := netip.AddrFromSlice(req.DstProtAddress)
	return ok && target == r.gatewayIP
}

// BuildReply returns the Ethernet frame answering req: it is sent from the spoofed MAC to the requester, and the
// ARP payload maps the gateway IP to the spoofed MAC. The caller is expected to have checked req with Matches.
func (r *Responder) BuildReply(req *layers.ARP) ([]byte, error) {
	if len(req.SourceHwAddress) != 6 || len(req.SourceProtAddress) != 4 {
		return nil, errors.New("request is not an Ethernet/IPv4 ARP packet")
	}
	requesterMAC := net.HardwareAddr(bytes.Clone(req.SourceHwAddress))
	eth := &layers.Ethernet{
		SrcMAC:       r.spoofedMAC,
		DstMAC:       requesterMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	reply := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   r.spoofedMAC,
		SourceProtAddress: r.gatewayIP.AsSlice(),
		DstHwAddress:      requesterMAC,
		DstProtAddress:    bytes.Clone(req.SourceProtAddress),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, reply); err != nil {
		return nil, fmt.Errorf("failed to serialize ARP reply: %w", err)
	}
	return buf.Bytes(), nil
}
