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

//go:build linux

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"path"

	"github.com/Jigsaw-Code/outline-gateway/internal/config"
	"github.com/Jigsaw-Code/outline-gateway/network/arp"
	"github.com/Jigsaw-Code/outline-gateway/network/dispatch"
	"github.com/Jigsaw-Code/outline-gateway/network/lwip2transport"
	"github.com/Jigsaw-Code/outline-gateway/network/provision"
	"github.com/Jigsaw-Code/outline-gateway/network/tap"
	"github.com/Jigsaw-Code/outline-gateway/transport"
	"github.com/Jigsaw-Code/outline-gateway/transport/shadowsocks/client"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags...]\n", path.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}

func main() {
	configFlag := flag.String("config", "", "Path to the YAML configuration file")
	verboseFlag := flag.Bool("v", false, "Enable debug output")
	relayFlag := flag.String("relay", "", "Relay address as host:port. Overrides relay.address")
	passwordFlag := flag.String("password", "", "Relay password. Overrides relay.password")
	cipherFlag := flag.String("cipher", "", "Relay cipher. Overrides relay.cipher")
	adapterFlag := flag.String("adapter", "", "TAP adapter name. Overrides adapter.name")
	flag.Parse()

	cfg, err := config.LoadFile(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *relayFlag != "" {
		cfg.Relay.Address = *relayFlag
	}
	if *passwordFlag != "" {
		cfg.Relay.Password = *passwordFlag
	}
	if *cipherFlag != "" {
		cfg.Relay.Cipher = *cipherFlag
	}
	if *adapterFlag != "" {
		cfg.Adapter.Name = *adapterFlag
	}
	if *verboseFlag {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config:\n%v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	logLevel, _ := cfg.Log.SlogLevel()
	slog.SetDefault(slog.New(tint.NewHandler(
		os.Stderr,
		&tint.Options{NoColor: !term.IsTerminal(int(os.Stderr.Fd())), Level: logLevel},
	)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		slog.Error("Gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	addrs, err := cfg.Gateway.Addresses()
	if err != nil {
		return err
	}
	key, err := cfg.Relay.EncryptionKey()
	if err != nil {
		return err
	}

	adapter, err := tap.Open(cfg.Adapter.Name)
	if err != nil {
		return err
	}
	defer adapter.Close()
	info := adapter.Info()
	slog.Info("Opened adapter", "name", info.Name, "mac", info.HardwareAddr, "mtu", info.MTU)

	if cfg.Adapter.Provision {
		undo, err := provisionHost(ctx, cfg, addrs)
		if err != nil {
			return err
		}
		defer func() {
			if err := undo(); err != nil {
				slog.Warn("Failed to restore routes", "error", err)
			}
		}()
	}

	dialer, err := client.NewStreamDialer(&transport.UDPEndpoint{Address: cfg.Relay.Address}, key)
	if err != nil {
		return err
	}
	stack, err := lwip2transport.ConfigureDevice(dialer)
	if err != nil {
		return fmt.Errorf("failed to configure network stack: %w", err)
	}
	segments, err := lwip2transport.NewSegmentHandler(stack, addrs.SpoofedMAC)
	if err != nil {
		return err
	}
	responder, err := arp.NewResponder(addrs.Local.Addr(), addrs.Gateway, addrs.SpoofedMAC)
	if err != nil {
		return err
	}
	dispatcher, err := dispatch.New(adapter, segments, responder)
	if err != nil {
		return err
	}

	slog.Info("Gateway running", "gateway", addrs.Gateway, "mac", addrs.SpoofedMAC, "relay", cfg.Relay.Address,
		"cipher", key.Cipher().Name())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		if err := adapter.Close(); err != nil {
			slog.Debug("Failed to close adapter", "error", err)
		}
		return nil
	})
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return segments.Run(gctx) })
	err = g.Wait()

	stats := dispatcher.Stats()
	slog.Info("Gateway stopped", "tcp", stats.TCP, "arp_replies", stats.ARPReplies, "dropped", stats.Dropped)
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// provisionHost assigns the adapter address and points the default route at the spoofed gateway. The relay host is
// added to the bypass list so the tunnel itself keeps using the uplink.
func provisionHost(ctx context.Context, cfg config.Config, addrs config.Addresses) (func() error, error) {
	bypass, err := cfg.BypassHosts()
	if err != nil {
		return nil, err
	}
	relayIPs, err := resolveRelay(ctx, cfg.Relay.Address)
	if err != nil {
		return nil, err
	}
	plan, err := provision.NewPlan(cfg.Adapter.Name, addrs.Local, addrs.Gateway, cfg.Gateway.RouteMetric,
		append(bypass, relayIPs...))
	if err != nil {
		return nil, err
	}
	for _, step := range plan.Steps() {
		slog.Info("Provisioning", "step", step)
	}
	return provision.Apply(plan)
}

func resolveRelay(ctx context.Context, address string) ([]netip.Addr, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip}, nil
	}
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve relay host %s: %w", host, err)
	}
	return ips, nil
}
