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

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"

	"github.com/Jigsaw-Code/outline-gateway/network"
	"github.com/Jigsaw-Code/outline-gateway/network/arp"
	"github.com/Jigsaw-Code/outline-gateway/network/frame"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

var testRemote = netip.AddrPortFrom(frame.TestRemoteIP, 443)

func TestDispatchTCPFrame(t *testing.T) {
	tcpFrame := frame.MakeTCPFrame(testRemote, []byte("hello"))
	dev := newFakeDevice(tcpFrame)
	var handled [][]byte
	d := newTestDispatcher(t, dev, TCPHandlerFunc(func(f []byte, writeBack WriteBackFunc) {
		handled = append(handled, bytes.Clone(f))
	}))

	err := d.Run(context.Background())
	require.ErrorIs(t, err, network.ErrClosed)
	require.Equal(t, [][]byte{tcpFrame}, handled)
	require.Empty(t, dev.writes())
	require.Equal(t, Stats{TCP: 1}, d.Stats())
}

func TestDispatchDropsOtherIPv4(t *testing.T) {
	dev := newFakeDevice(frame.MakeUDPFrame(testRemote, []byte("hello")))
	d := newTestDispatcher(t, dev, failingTCPHandler(t))

	require.ErrorIs(t, d.Run(context.Background()), network.ErrClosed)
	require.Empty(t, dev.writes())
	require.Equal(t, Stats{Dropped: 1}, d.Stats())
}

func TestDispatchAnswersMatchingARP(t *testing.T) {
	dev := newFakeDevice(frame.MakeARPRequest(frame.TestHostMAC, frame.TestLocalIP, frame.TestGatewayIP))
	d := newTestDispatcher(t, dev, failingTCPHandler(t))

	require.ErrorIs(t, d.Run(context.Background()), network.ErrClosed)
	writes := dev.writes()
	require.Len(t, writes, 1)

	pkt := gopacket.NewPacket(writes[0], layers.LayerTypeEthernet, gopacket.Default)
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.Equal(t, frame.TestHostMAC, eth.DstMAC)
	require.Equal(t, frame.TestGatewayMAC, eth.SrcMAC)
	reply := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.Equal(t, uint16(layers.ARPReply), reply.Operation)
	require.Equal(t, []byte(frame.TestGatewayMAC), reply.SourceHwAddress)
	require.Equal(t, frame.TestGatewayIP.AsSlice(), reply.SourceProtAddress)
	require.Equal(t, []byte(frame.TestHostMAC), reply.DstHwAddress)
	require.Equal(t, frame.TestLocalIP.AsSlice(), reply.DstProtAddress)
	require.Equal(t, Stats{ARPReplies: 1}, d.Stats())
}

func TestDispatchIgnoresOtherARP(t *testing.T) {
	other := netip.MustParseAddr("10.198.75.1")
	dev := newFakeDevice(
		frame.MakeARPRequest(frame.TestHostMAC, frame.TestLocalIP, other),
		frame.MakeARPRequest(frame.TestHostMAC, other, frame.TestGatewayIP),
	)
	d := newTestDispatcher(t, dev, failingTCPHandler(t))

	require.ErrorIs(t, d.Run(context.Background()), network.ErrClosed)
	require.Empty(t, dev.writes())
	require.Equal(t, Stats{Dropped: 2}, d.Stats())
}

func TestDispatchDropsUnknownFrames(t *testing.T) {
	dev := newFakeDevice(frame.MakeIPv6Frame(), []byte{0xde, 0xad}, nil)
	d := newTestDispatcher(t, dev, failingTCPHandler(t))

	require.ErrorIs(t, d.Run(context.Background()), network.ErrClosed)
	require.Empty(t, dev.writes())
	require.Equal(t, Stats{Dropped: 3}, d.Stats())
}

func TestDispatchMixedSequence(t *testing.T) {
	tcp1 := frame.MakeTCPFrame(testRemote, []byte("one"))
	tcp2 := frame.MakeTCPFrame(testRemote, []byte("two"))
	dev := newFakeDevice(
		tcp1,
		frame.MakeUDPFrame(testRemote, nil),
		frame.MakeARPRequest(frame.TestHostMAC, frame.TestLocalIP, frame.TestGatewayIP),
		tcp2,
	)
	var handled [][]byte
	d := newTestDispatcher(t, dev, TCPHandlerFunc(func(f []byte, writeBack WriteBackFunc) {
		handled = append(handled, bytes.Clone(f))
	}))

	require.ErrorIs(t, d.Run(context.Background()), network.ErrClosed)
	require.Equal(t, [][]byte{tcp1, tcp2}, handled)
	require.Len(t, dev.writes(), 1)
	require.Equal(t, Stats{TCP: 2, ARPReplies: 1, Dropped: 1}, d.Stats())
}

func TestDispatchTCPWriteBack(t *testing.T) {
	dev := newFakeDevice(frame.MakeTCPFrame(testRemote, nil))
	response := []byte("response frame")
	d := newTestDispatcher(t, dev, TCPHandlerFunc(func(f []byte, writeBack WriteBackFunc) {
		require.NoError(t, writeBack(response))
	}))

	require.ErrorIs(t, d.Run(context.Background()), network.ErrClosed)
	require.Equal(t, [][]byte{response}, dev.writes())
}

func TestDispatchReadErrorIsFatal(t *testing.T) {
	readErr := errors.New("device unplugged")
	dev := newFakeDevice(frame.MakeUDPFrame(testRemote, nil))
	dev.readErr = readErr
	d := newTestDispatcher(t, dev, failingTCPHandler(t))

	err := d.Run(context.Background())
	require.ErrorIs(t, err, readErr)
	require.Equal(t, Stats{Dropped: 1}, d.Stats())
}

func TestDispatchWriteErrorIsFatal(t *testing.T) {
	writeErr := errors.New("no carrier")
	dev := newFakeDevice(
		frame.MakeARPRequest(frame.TestHostMAC, frame.TestLocalIP, frame.TestGatewayIP),
		frame.MakeTCPFrame(testRemote, nil),
	)
	dev.writeErr = writeErr
	d := newTestDispatcher(t, dev, failingTCPHandler(t))

	err := d.Run(context.Background())
	require.ErrorIs(t, err, writeErr)
	require.Equal(t, Stats{}, d.Stats())
}

func TestDispatchStopsOnCancel(t *testing.T) {
	dev := newFakeDevice(frame.MakeUDPFrame(testRemote, nil))
	d := newTestDispatcher(t, dev, failingTCPHandler(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, d.Run(ctx), context.Canceled)
	require.Equal(t, Stats{}, d.Stats())
}

func TestNewArguments(t *testing.T) {
	responder, err := arp.NewResponder(frame.TestLocalIP, frame.TestGatewayIP, frame.TestGatewayMAC)
	require.NoError(t, err)
	dev := newFakeDevice()
	noop := TCPHandlerFunc(func([]byte, WriteBackFunc) {})

	_, err = New(nil, noop, responder)
	require.Error(t, err)
	_, err = New(dev, nil, responder)
	require.Error(t, err)
	_, err = New(dev, noop, nil)
	require.Error(t, err)
}

// Test utilities

func newTestDispatcher(t testing.TB, dev network.FrameDevice, tcp TCPHandler) *Dispatcher {
	responder, err := arp.NewResponder(frame.TestLocalIP, frame.TestGatewayIP, frame.TestGatewayMAC)
	require.NoError(t, err)
	d, err := New(dev, tcp, responder)
	require.NoError(t, err)
	return d
}

func failingTCPHandler(t testing.TB) TCPHandler {
	return TCPHandlerFunc(func(f []byte, _ WriteBackFunc) {
		t.Errorf("unexpected TCP frame: % x", f)
	})
}

// fakeDevice replays a fixed list of frames and records what is written to it. Once the frames run out, Read fails
// with readErr.
type fakeDevice struct {
	frames   [][]byte
	readErr  error
	writeErr error

	mu      sync.Mutex
	written [][]byte
}

var _ network.FrameDevice = (*fakeDevice)(nil)

func newFakeDevice(frames ...[]byte) *fakeDevice {
	return &fakeDevice{frames: frames, readErr: network.ErrClosed}
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	if len(d.frames) == 0 {
		return 0, d.readErr
	}
	f := d.frames[0]
	d.frames = d.frames[1:]
	return copy(p, f), nil
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, bytes.Clone(p))
	return len(p), nil
}

func (d *fakeDevice) writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

func (d *fakeDevice) Close() error { return nil }

func (d *fakeDevice) MTU() int { return 1500 }
