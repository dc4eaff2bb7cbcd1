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

package frame

import (
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Addresses used by the test frames.
var (
	TestHostMAC    = net.HardwareAddr{0x02, 0x00, 0x5e, 0x10, 0x00, 0x01}
	TestGatewayMAC = net.HardwareAddr{0x00, 0xff, 0xb9, 0x5a, 0xd2, 0xd5}
	TestLocalIP    = netip.MustParseAddr("10.198.75.60")
	TestGatewayIP  = netip.MustParseAddr("10.198.75.61")
	TestRemoteIP   = netip.MustParseAddr("203.0.113.5")
)

// MakeTCPFrame returns an Ethernet frame with an IPv4/TCP segment from the test host to remote.
func MakeTCPFrame(remote netip.AddrPort, payload []byte) []byte {
	ip := testIPv4(layers.IPProtocolTCP, remote.Addr())
	tcp := &layers.TCP{SrcPort: 40000, DstPort: layers.TCPPort(remote.Port()), Seq: 1, SYN: true, Window: 65535}
	tcp.SetNetworkLayerForChecksum(ip)
	return serialize(testEthernet(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload(payload))
}

// MakeUDPFrame returns an Ethernet frame with an IPv4/UDP datagram from the test host to remote.
func MakeUDPFrame(remote netip.AddrPort, payload []byte) []byte {
	ip := testIPv4(layers.IPProtocolUDP, remote.Addr())
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(remote.Port())}
	udp.SetNetworkLayerForChecksum(ip)
	return serialize(testEthernet(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload))
}

// MakeIPv6Frame returns an Ethernet frame with an IPv6/TCP segment.
func MakeIPv6Frame() []byte {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolTCP,
		SrcIP:      net.ParseIP("fd00::1"),
		DstIP:      net.ParseIP("2001:db8::1"),
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443, SYN: true}
	tcp.SetNetworkLayerForChecksum(ip)
	return serialize(testEthernet(layers.EthernetTypeIPv6), ip, tcp)
}

// MakeARPRequest returns a broadcast ARP request from sender asking for target.
func MakeARPRequest(senderMAC net.HardwareAddr, sender, target netip.Addr) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       senderMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   senderMAC,
		SourceProtAddress: sender.AsSlice(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    target.AsSlice(),
	}
	return serialize(eth, arp)
}

func testEthernet(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: TestHostMAC, DstMAC: TestGatewayMAC, EthernetType: t}
}

func testIPv4(proto layers.IPProtocol, dst netip.Addr) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: proto,
		SrcIP:    TestLocalIP.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
