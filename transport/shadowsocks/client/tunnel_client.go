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

package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Jigsaw-Code/outline-gateway/internal/slicepool"
	"github.com/Jigsaw-Code/outline-gateway/transport"
	"github.com/Jigsaw-Code/outline-gateway/transport/shadowsocks"
)

// clientUDPBufferSize is the maximum supported tunnel datagram size in bytes.
const clientUDPBufferSize = 16 * 1024

// udpPool stores the byte slices used for storing tunnel datagrams.
var udpPool = slicepool.MakePool(clientUDPBufferSize)

// Backoff between consecutive failed reads from the relay socket.
const (
	minReadBackoff = 10 * time.Millisecond
	maxReadBackoff = time.Second
)

// ErrMsgSize is returned by [TunnelClient.Write] when the address header and payload do not fit in one datagram.
var ErrMsgSize = errors.New("payload too large for a tunnel datagram")

// Receiver is notified of the inbound traffic of a [TunnelClient]. Notifications for one client are delivered one
// at a time from the client's receive goroutine, with no correlation to earlier writes.
type Receiver interface {
	// OnData is called with the payload of each datagram received from the relay, with the address header removed.
	// Every receiver gets its own copy, which it may retain and modify.
	OnData(payload []byte)
	// OnError is called when the transport fails to send or receive. The client keeps running.
	OnError(err error)
}

// ReceiverFuncs is a [Receiver] that calls the given functions. Nil functions are ignored.
type ReceiverFuncs struct {
	Data  func(payload []byte)
	Error func(err error)
}

var _ Receiver = ReceiverFuncs{}

func (f ReceiverFuncs) OnData(payload []byte) {
	if f.Data != nil {
		f.Data(payload)
	}
}

func (f ReceiverFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

type subscription struct {
	id       uint64
	receiver Receiver
}

// TunnelClient speaks the tunnel protocol to one relay on behalf of one fixed target. Every datagram it sends is
// the target's address header followed by the payload, encrypted as a single unit with a fresh keystream.
//
// TunnelClient is safe for concurrent use.
type TunnelClient struct {
	conn   net.Conn
	key    *shadowsocks.EncryptionKey
	target shadowsocks.AddressHeader
	header []byte

	// done is closed by Close.
	done chan struct{}

	mu     sync.Mutex
	closed bool
	nextID uint64
	subs   []subscription
}

// NewTunnelClient connects to the relay at endpoint and starts receiving its datagrams. Datagrams are sealed with
// key and addressed to target, which stays fixed for the lifetime of the client.
func NewTunnelClient(ctx context.Context, endpoint transport.PacketEndpoint, key *shadowsocks.EncryptionKey, target shadowsocks.AddressHeader) (*TunnelClient, error) {
	if endpoint == nil {
		return nil, errors.New("argument endpoint must not be nil")
	}
	if key == nil {
		return nil, errors.New("argument key must not be nil")
	}
	header, err := shadowsocks.BuildAddressHeader(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	if len(header) >= clientUDPBufferSize {
		return nil, ErrMsgSize
	}
	conn, err := endpoint.ConnectPacket(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not connect to relay: %w", err)
	}
	c := &TunnelClient{
		conn:   conn,
		key:    key,
		target: target,
		header: header,
		done:   make(chan struct{}),
	}
	go c.receiveLoop()
	return c, nil
}

// Subscribe registers r for inbound notifications and returns a function that removes it.
func (c *TunnelClient) Subscribe(r Receiver) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs = append(c.subs, subscription{id: id, receiver: r})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// Target returns the address header sent with every datagram.
func (c *TunnelClient) Target() shadowsocks.AddressHeader {
	return c.target
}

// RelayAddr returns the address of the relay.
func (c *TunnelClient) RelayAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address of the socket used to talk to the relay.
func (c *TunnelClient) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// MaxPayloadSize returns the largest payload accepted by [TunnelClient.Write].
func (c *TunnelClient) MaxPayloadSize() int {
	return clientUDPBufferSize - len(c.header)
}

// Write sends payload to the target through the relay as one datagram. It returns as soon as the datagram is handed
// to the transport: there are no acknowledgements and no retries.
func (c *TunnelClient) Write(payload []byte) (int, error) {
	if len(payload) > c.MaxPayloadSize() {
		return 0, ErrMsgSize
	}
	lazySlice := udpPool.LazySlice()
	buf := lazySlice.Acquire()
	defer lazySlice.Release()

	plaintext := append(append(buf[:0], c.header...), payload...)
	// Encrypt in-place.
	datagram, err := shadowsocks.Pack(nil, plaintext, c.key)
	if err != nil {
		return 0, err
	}
	if _, err := c.conn.Write(datagram); err != nil {
		if c.isClosed() {
			return 0, net.ErrClosed
		}
		err = fmt.Errorf("failed to send datagram to relay: %w", err)
		c.notifyError(err)
		return 0, err
	}
	return len(payload), nil
}

// Close releases the socket. Notifications racing with Close may be dropped.
func (c *TunnelClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return net.ErrClosed
	}
	c.closed = true
	c.subs = nil
	close(c.done)
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *TunnelClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *TunnelClient) receiveLoop() {
	lazySlice := udpPool.LazySlice()
	buf := lazySlice.Acquire()
	defer lazySlice.Release()
	backoff := time.Duration(0)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if c.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			c.notifyError(fmt.Errorf("failed to receive datagram from relay: %w", err))
			backoff = min(max(2*backoff, minReadBackoff), maxReadBackoff)
			select {
			case <-time.After(backoff):
			case <-c.done:
				return
			}
			continue
		}
		backoff = 0
		payload, err := c.open(buf[:n])
		if err != nil {
			slog.Debug("Dropped tunnel datagram", "relay", c.conn.RemoteAddr(), "bytes", n, "error", err)
			continue
		}
		c.notifyData(payload)
	}
}

// open decrypts a datagram in place and strips its address header.
func (c *TunnelClient) open(datagram []byte) ([]byte, error) {
	plaintext, err := shadowsocks.Unpack(nil, datagram, c.key)
	if err != nil {
		return nil, err
	}
	_, payload, err := shadowsocks.ParseAddressHeader(plaintext)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *TunnelClient) receivers() []subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return append([]subscription(nil), c.subs...)
}

func (c *TunnelClient) notifyData(payload []byte) {
	for _, s := range c.receivers() {
		s.receiver.OnData(bytes.Clone(payload))
	}
}

func (c *TunnelClient) notifyError(err error) {
	for _, s := range c.receivers() {
		s.receiver.OnError(err)
	}
}
