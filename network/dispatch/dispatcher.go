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

// Package dispatch pumps Ethernet frames from a virtual adapter to the component that handles them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Jigsaw-Code/outline-gateway/network"
	"github.com/Jigsaw-Code/outline-gateway/network/arp"
	"github.com/Jigsaw-Code/outline-gateway/network/frame"
)

// ethernetHeaderLen is the size of an Ethernet header with one 802.1Q tag.
const ethernetHeaderLen = 18

// WriteBackFunc writes one Ethernet frame to the adapter. It is safe for concurrent use.
type WriteBackFunc func(frame []byte) error

// TCPHandler owns the TCP traffic captured from the adapter.
type TCPHandler interface {
	// HandleSegment is called with each captured IPv4/TCP frame, unmodified, and with a function to send frames back
	// to the adapter. frame is only valid until HandleSegment returns; writeBack can be kept and called at any time.
	HandleSegment(frame []byte, writeBack WriteBackFunc)
}

// TCPHandlerFunc is a [TCPHandler] that calls the given function.
type TCPHandlerFunc func(frame []byte, writeBack WriteBackFunc)

var _ TCPHandler = TCPHandlerFunc(nil)

func (f TCPHandlerFunc) HandleSegment(frame []byte, writeBack WriteBackFunc) {
	f(frame, writeBack)
}

// Stats counts the frames seen by a [Dispatcher].
type Stats struct {
	TCP        uint64
	ARPReplies uint64
	Dropped    uint64
}

// Dispatcher reads frames from a [network.FrameDevice] one at a time and routes them by kind:
//   - IPv4/TCP frames go to the [TCPHandler];
//   - other IPv4 packets are dropped;
//   - ARP requests from the local IP for the gateway IP are answered with a spoofed reply, other ARP is dropped;
//   - anything else is dropped.
//
// The next frame is only read once the current one has been fully handled.
type Dispatcher struct {
	dev        network.FrameDevice
	tcp        TCPHandler
	responder  *arp.Responder
	classifier *frame.Classifier

	tcpCount, arpCount, dropCount atomic.Uint64
}

// New creates a [Dispatcher] for dev.
func New(dev network.FrameDevice, tcp TCPHandler, responder *arp.Responder) (*Dispatcher, error) {
	if dev == nil {
		return nil, errors.New("argument dev must not be nil")
	}
	if tcp == nil {
		return nil, errors.New("argument tcp must not be nil")
	}
	if responder == nil {
		return nil, errors.New("argument responder must not be nil")
	}
	return &Dispatcher{
		dev:        dev,
		tcp:        tcp,
		responder:  responder,
		classifier: frame.NewClassifier(),
	}, nil
}

// Run pumps frames until reading or writing the device fails, and returns that error. Device errors are never
// retried. To stop Run, close the device; if ctx is done by then, Run returns ctx.Err().
//
// Run must not be called concurrently.
func (d *Dispatcher) Run(ctx context.Context) error {
	buf := make([]byte, d.dev.MTU()+ethernetHeaderLen)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := d.dev.Read(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}
		if err := d.handleFrame(buf[:n]); err != nil {
			return err
		}
	}
}

// Stats returns the frame counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		TCP:        d.tcpCount.Load(),
		ARPReplies: d.arpCount.Load(),
		Dropped:    d.dropCount.Load(),
	}
}

func (d *Dispatcher) handleFrame(b []byte) error {
	kind := d.classifier.Classify(b)
	switch kind {
	case frame.IPv4TCP:
		d.tcpCount.Add(1)
		d.tcp.HandleSegment(b, d.writeBack)
		return nil
	case frame.ARP:
		req := d.classifier.ARP()
		if !d.responder.Matches(req) {
			d.drop(kind, b)
			return nil
		}
		reply, err := d.responder.BuildReply(req)
		if err != nil {
			d.drop(kind, b)
			return nil
		}
		if err := d.writeBack(reply); err != nil {
			return err
		}
		d.arpCount.Add(1)
		slog.Debug("Answered ARP request", "requester", d.classifier.Ethernet().SrcMAC, "mac", d.responder.SpoofedMAC())
		return nil
	default:
		d.drop(kind, b)
		return nil
	}
}

func (d *Dispatcher) drop(kind frame.Kind, b []byte) {
	d.dropCount.Add(1)
	slog.Debug("Dropped frame", "kind", kind, "bytes", len(b))
}

func (d *Dispatcher) writeBack(b []byte) error {
	if _, err := d.dev.Write(b); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
