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

// Package config loads the gateway configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"

	"github.com/Jigsaw-Code/outline-gateway/transport/shadowsocks"
	"gopkg.in/yaml.v3"
)

// Config is the gateway configuration.
//
//	adapter:
//	  name: tap0
//	  provision: true
//	gateway:
//	  local_ip: 10.198.75.60/24
//	  ip: 10.198.75.61
//	  spoofed_mac: 00:ff:b9:5a:d2:d5
//	  route_metric: 2
//	relay:
//	  address: relay.example.com:8388
//	  password: secret
//	  cipher: rc4-md5
//	bypass: [114.114.114.114, 114.114.115.115]
//	log:
//	  level: info
type Config struct {
	Adapter AdapterConfig `yaml:"adapter"`
	Gateway GatewayConfig `yaml:"gateway"`
	Relay   RelayConfig   `yaml:"relay"`
	// Bypass lists IPv4 hosts that keep using the original uplink.
	Bypass []string  `yaml:"bypass"`
	Log    LogConfig `yaml:"log"`
}

type AdapterConfig struct {
	Name string `yaml:"name"`
	// Provision assigns the address and routes of the adapter at startup.
	Provision bool `yaml:"provision"`
}

type GatewayConfig struct {
	// LocalIP is the address of the host on the adapter, with its subnet.
	LocalIP string `yaml:"local_ip"`
	// IP is the gateway address answered with SpoofedMAC.
	IP          string `yaml:"ip"`
	SpoofedMAC  string `yaml:"spoofed_mac"`
	RouteMetric int    `yaml:"route_metric"`
}

type RelayConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Cipher   string `yaml:"cipher"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used for every field missing from the file.
func Default() Config {
	return Config{
		Adapter: AdapterConfig{Name: "tap0", Provision: true},
		Gateway: GatewayConfig{
			LocalIP:     "10.198.75.60/24",
			IP:          "10.198.75.61",
			SpoofedMAC:  "00:ff:b9:5a:d2:d5",
			RouteMetric: 2,
		},
		Relay:  RelayConfig{Cipher: shadowsocks.RC4MD5.Name()},
		Bypass: []string{"114.114.114.114", "114.114.115.115"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load decodes a YAML document on top of [Default]. Unknown fields are an error. The result is not validated.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadFile is like [Load] for the file at path. An empty path returns [Default].
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Load(bytes.NewReader(data))
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Adapter.Name == "" {
		errs = append(errs, errors.New("adapter.name is required"))
	}
	if _, err := c.Gateway.Addresses(); err != nil {
		errs = append(errs, err)
	}
	if c.Gateway.RouteMetric < 0 {
		errs = append(errs, fmt.Errorf("gateway.route_metric %d must not be negative", c.Gateway.RouteMetric))
	}
	if _, _, err := net.SplitHostPort(c.Relay.Address); err != nil {
		errs = append(errs, fmt.Errorf("relay.address %q must be host:port: %w", c.Relay.Address, err))
	}
	if c.Relay.Password == "" {
		errs = append(errs, errors.New("relay.password is required"))
	}
	if _, err := shadowsocks.CipherByName(c.Relay.Cipher); err != nil {
		errs = append(errs, fmt.Errorf("relay.cipher: %w", err))
	}
	if _, err := c.BypassHosts(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Addresses is the parsed form of a [GatewayConfig].
type Addresses struct {
	Local      netip.Prefix
	Gateway    netip.Addr
	SpoofedMAC net.HardwareAddr
}

// Addresses parses the gateway addresses.
func (g GatewayConfig) Addresses() (Addresses, error) {
	var errs []error
	local, err := netip.ParsePrefix(g.LocalIP)
	if err != nil || !local.Addr().Is4() {
		errs = append(errs, fmt.Errorf("gateway.local_ip %q must be an IPv4 address with prefix length", g.LocalIP))
	}
	gateway, err := netip.ParseAddr(g.IP)
	if err != nil || !gateway.Is4() {
		errs = append(errs, fmt.Errorf("gateway.ip %q must be an IPv4 address", g.IP))
	}
	mac, err := net.ParseMAC(g.SpoofedMAC)
	if err != nil || len(mac) != 6 {
		errs = append(errs, fmt.Errorf("gateway.spoofed_mac %q must be an EUI-48 address", g.SpoofedMAC))
	}
	if err := errors.Join(errs...); err != nil {
		return Addresses{}, err
	}
	return Addresses{Local: local, Gateway: gateway, SpoofedMAC: mac}, nil
}

// BypassHosts parses the bypass list.
func (c Config) BypassHosts() ([]netip.Addr, error) {
	hosts := make([]netip.Addr, 0, len(c.Bypass))
	var errs []error
	for _, s := range c.Bypass {
		a, err := netip.ParseAddr(s)
		if err != nil || !a.Unmap().Is4() {
			errs = append(errs, fmt.Errorf("bypass host %q must be an IPv4 address", s))
			continue
		}
		hosts = append(hosts, a.Unmap())
	}
	return hosts, errors.Join(errs...)
}

// EncryptionKey derives the relay key from the password.
func (r RelayConfig) EncryptionKey() (*shadowsocks.EncryptionKey, error) {
	cipher, err := shadowsocks.CipherByName(r.Cipher)
	if err != nil {
		return nil, err
	}
	return shadowsocks.NewEncryptionKey(cipher, r.Password)
}

// SlogLevel parses the level name (debug, info, warn or error).
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
