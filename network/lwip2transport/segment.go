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

package lwip2transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/Jigsaw-Code/outline-gateway/network"
	"github.com/Jigsaw-Code/outline-gateway/network/dispatch"
)

const (
	ethernetHeaderLen = 14
	etherTypeIPv4     = 0x0800
)

// SegmentHandler is a [dispatch.TCPHandler] that feeds the TCP frames captured from an adapter into an IP device,
// such as the one returned by [ConfigureDevice], and frames the packets the device sends back.
//
// Outgoing frames are addressed from the gateway MAC to the hardware address of the last host that sent a segment,
// and are written with the latest write-back function.
type SegmentHandler struct {
	dev        network.IPDevice
	gatewayMAC net.HardwareAddr

	mu        sync.Mutex
	hostMAC   net.HardwareAddr
	writeBack dispatch.WriteBackFunc
}

var _ dispatch.TCPHandler = (*SegmentHandler)(nil)

// NewSegmentHandler creates a [SegmentHandler] that writes to dev and answers as gatewayMAC.
func NewSegmentHandler(dev network.IPDevice, gatewayMAC net.HardwareAddr) (*SegmentHandler, error) {
	if dev == nil {
		return nil, errors.New("argument dev must not be nil")
	}
	if len(gatewayMAC) != 6 {
		return nil, errors.New("gateway MAC must be an EUI-48 address")
	}
	return &SegmentHandler{dev: dev, gatewayMAC: bytes.Clone(gatewayMAC)}, nil
}

// HandleSegment implements [dispatch.TCPHandler]. It strips the Ethernet header and writes the IP packet to the device.
func (h *SegmentHandler) HandleSegment(frame []byte, writeBack dispatch.WriteBackFunc) {
	if len(frame) <= ethernetHeaderLen {
		return
	}
	h.mu.Lock()
	if !bytes.Equal(h.hostMAC, frame[6:12]) {
		h.hostMAC = bytes.Clone(frame[6:12])
	}
	h.writeBack = writeBack
	h.mu.Unlock()

	packet := frame[ethernetHeaderLen:]
	// Ethernet may pad short frames: trim to the IPv4 total length.
	if len(packet) >= 4 {
		if total := int(binary.BigEndian.Uint16(packet[2:4])); total >= 20 && total < len(packet) {
			packet = packet[:total]
		}
	}
	if _, err := h.dev.Write(packet); err != nil {
		slog.Debug("Failed to write segment to the network stack", "bytes", len(packet), "error", err)
	}
}

// Run frames the IP packets read from the device and writes them back to the adapter, until reading from the device
// fails or ctx is done. It returns nil if the device was closed.
func (h *SegmentHandler) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { h.dev.Close() })
	defer stop()

	buf := make([]byte, ethernetHeaderLen+h.dev.MTU())
	for {
		n, err := h.dev.Read(buf[ethernetHeaderLen:])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, network.ErrClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read from the network stack: %w", err)
		}
		if n == 0 || buf[ethernetHeaderLen]>>4 != 4 {
			continue
		}
		h.mu.Lock()
		hostMAC, writeBack := h.hostMAC, h.writeBack
		h.mu.Unlock()
		if writeBack == nil {
			slog.Debug("Dropped packet before any host was seen", "bytes", n)
			continue
		}
		copy(buf[0:6], hostMAC)
		copy(buf[6:12], h.gatewayMAC)
		binary.BigEndian.PutUint16(buf[12:14], etherTypeIPv4)
		if err := writeBack(buf[:ethernetHeaderLen+n]); err != nil {
			return err
		}
	}
}
