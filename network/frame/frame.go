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

// Package frame classifies Ethernet frames captured from a virtual adapter.
package frame

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Kind is the class of a captured frame.
type Kind int

const (
	// Unknown is any frame that is neither IPv4 nor ARP, or that could not be decoded.
	Unknown Kind = iota
	// IPv4TCP is an IPv4 packet carrying a TCP segment.
	IPv4TCP
	// IPv4Other is any other IPv4 packet, including malformed ones.
	IPv4Other
	// ARP is an ARP packet.
	ARP
)

func (k Kind) String() string {
	switch k {
	case IPv4TCP:
		return "ipv4/tcp"
	case IPv4Other:
		return "ipv4/other"
	case ARP:
		return "arp"
	default:
		return "unknown"
	}
}

// Classifier decodes the Ethernet, IPv4 and ARP headers of frames without allocating.
//
// A Classifier is not safe for concurrent use. The layers it exposes are only valid until the next call to Classify
// and alias the classified frame.
type Classifier struct {
	eth     layers.Ethernet
	ip4     layers.IPv4
	arp     layers.ARP
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewClassifier creates a new [Classifier].
func NewClassifier() *Classifier {
	c := &Classifier{decoded: make([]gopacket.LayerType, 0, 3)}
	c.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &c.eth, &c.ip4, &c.arp)
	// Transport layers are never decoded: the IPv4 protocol field is enough.
	c.parser.IgnoreUnsupported = true
	return c
}

// Classify returns the [Kind] of the Ethernet frame b.
func (c *Classifier) Classify(b []byte) Kind {
	// A decoding error stops the parser, but the layers decoded before it stay valid.
	_ = c.parser.DecodeLayers(b, &c.decoded)
	var sawEthernet bool
	for _, t := range c.decoded {
		switch t {
		case layers.LayerTypeEthernet:
			sawEthernet = true
		case layers.LayerTypeIPv4:
			if c.ip4.Protocol == layers.IPProtocolTCP {
				return IPv4TCP
			}
			return IPv4Other
		case layers.LayerTypeARP:
			return ARP
		}
	}
	if sawEthernet && c.eth.EthernetType == layers.EthernetTypeIPv4 {
		return IPv4Other
	}
	return Unknown
}

// Ethernet returns the Ethernet header of the last classified frame.
func (c *Classifier) Ethernet() *layers.Ethernet {
	return &c.eth
}

// IPv4 returns the IPv4 header of the last classified frame. Only valid if the frame was IPv4TCP.
func (c *Classifier) IPv4() *layers.IPv4 {
	return &c.ip4
}

// ARP returns the ARP packet of the last classified frame. Only valid if the frame was ARP.
func (c *Classifier) ARP() *layers.ARP {
	return &c.arp
}
