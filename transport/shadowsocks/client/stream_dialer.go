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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Jigsaw-Code/outline-gateway/internal/ddltimer"
	"github.com/Jigsaw-Code/outline-gateway/transport"
	"github.com/Jigsaw-Code/outline-gateway/transport/shadowsocks"
)

// inboundQueueSize is the number of received payloads a stream connection buffers before it starts dropping them.
const inboundQueueSize = 64

// NewStreamDialer creates a [transport.StreamDialer] that carries every stream over its own [TunnelClient] to the
// relay at endpoint. The stream bytes are sent as datagram payloads, so ordering and delivery are only as good as
// the path to the relay.
func NewStreamDialer(endpoint transport.PacketEndpoint, key *shadowsocks.EncryptionKey) (transport.StreamDialer, error) {
	if endpoint == nil {
		return nil, errors.New("argument endpoint must not be nil")
	}
	if key == nil {
		return nil, errors.New("argument key must not be nil")
	}
	return &streamDialer{endpoint: endpoint, key: key}, nil
}

type streamDialer struct {
	endpoint transport.PacketEndpoint
	key      *shadowsocks.EncryptionKey
}

// DialStream implements [transport.StreamDialer].DialStream. The returned connection is ready as soon as the relay
// socket is open; nothing is exchanged with the target until the first write.
func (d *streamDialer) DialStream(ctx context.Context, remoteAddr string) (transport.StreamConn, error) {
	target, err := shadowsocks.AddressHeaderFromHostPort(remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse target address: %w", err)
	}
	tunnel, err := NewTunnelClient(ctx, d.endpoint, d.key, target)
	if err != nil {
		return nil, err
	}
	return newTunnelConn(tunnel), nil
}

type targetAddr struct {
	shadowsocks.AddressHeader
}

func (targetAddr) Network() string { return "tcp" }

type tunnelConn struct {
	tunnel      *TunnelClient
	unsubscribe func()

	readMu  sync.Mutex
	inbound chan []byte
	pending []byte

	readDone      chan struct{}
	closeReadOnce sync.Once
	writeMu       sync.Mutex
	writeDone     bool

	readDeadline  *ddltimer.DeadlineTimer
	writeDeadline *ddltimer.DeadlineTimer
}

var _ transport.StreamConn = (*tunnelConn)(nil)

func newTunnelConn(tunnel *TunnelClient) *tunnelConn {
	c := &tunnelConn{
		tunnel:        tunnel,
		inbound:       make(chan []byte, inboundQueueSize),
		readDone:      make(chan struct{}),
		readDeadline:  ddltimer.New(),
		writeDeadline: ddltimer.New(),
	}
	c.unsubscribe = tunnel.Subscribe(ReceiverFuncs{
		Data: func(payload []byte) {
			select {
			case c.inbound <- payload:
			case <-c.readDone:
			default:
				slog.Debug("Dropped tunnel payload on full queue", "target", tunnel.Target(), "bytes", len(payload))
			}
		},
		Error: func(err error) {
			slog.Debug("Tunnel transport error", "target", tunnel.Target(), "error", err)
		},
	})
	return c
}

func (c *tunnelConn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if len(c.pending) == 0 {
		select {
		case <-c.readDone:
			return 0, io.EOF
		case <-c.readDeadline.Timeout():
			return 0, os.ErrDeadlineExceeded
		case c.pending = <-c.inbound:
		}
	}
	n := copy(b, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write splits b into datagrams of at most MaxPayloadSize bytes.
func (c *tunnelConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeDone {
		return 0, net.ErrClosed
	}
	written := 0
	for written < len(b) {
		if c.writeDeadline.Expired() {
			return written, os.ErrDeadlineExceeded
		}
		chunk := b[written:min(len(b), written+c.tunnel.MaxPayloadSize())]
		n, err := c.tunnel.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (c *tunnelConn) CloseRead() error {
	c.closeReadOnce.Do(func() {
		c.unsubscribe()
		close(c.readDone)
		c.readDeadline.Stop()
	})
	return nil
}

func (c *tunnelConn) CloseWrite() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.writeDone = true
	c.writeDeadline.Stop()
	return nil
}

func (c *tunnelConn) Close() error {
	return errors.Join(c.CloseRead(), c.CloseWrite(), c.tunnel.Close())
}

func (c *tunnelConn) LocalAddr() net.Addr {
	return c.tunnel.LocalAddr()
}

func (c *tunnelConn) RemoteAddr() net.Addr {
	return targetAddr{c.tunnel.Target()}
}

func (c *tunnelConn) SetDeadline(t time.Time) error {
	c.readDeadline.SetDeadline(t)
	c.writeDeadline.SetDeadline(t)
	return nil
}

func (c *tunnelConn) SetReadDeadline(t time.Time) error {
	c.readDeadline.SetDeadline(t)
	return nil
}

func (c *tunnelConn) SetWriteDeadline(t time.Time) error {
	c.writeDeadline.SetDeadline(t)
	return nil
}
