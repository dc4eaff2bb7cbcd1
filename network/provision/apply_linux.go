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

package provision

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Apply configures the host according to p and returns a function that reverts the routes it added. The address
// stays on the adapter and goes away with it.
func Apply(p Plan) (undo func() error, err error) {
	link, err := netlink.LinkByName(p.Link)
	if err != nil {
		return nil, fmt.Errorf("failed to find adapter '%s': %w", p.Link, err)
	}
	addr := &netlink.Addr{IPNet: prefixToIPNet(p.Local)}
	if err := netlink.AddrAdd(link, addr); err != nil && !errors.Is(err, unix.EEXIST) {
		return nil, fmt.Errorf("failed to add %v to adapter '%s': %w", p.Local, p.Link, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return nil, fmt.Errorf("failed to bring adapter '%s' up: %w", p.Link, err)
	}

	uplink, err := findUplink(link.Attrs().Index)
	if err != nil && len(p.Bypass) > 0 {
		return nil, err
	}

	var added []netlink.Route
	undo = func() error {
		var errs error
		for i := len(added) - 1; i >= 0; i-- {
			if err := netlink.RouteDel(&added[i]); err != nil {
				errs = errors.Join(errs, fmt.Errorf("failed to remove route to %v: %w", added[i].Dst, err))
			}
		}
		return errs
	}
	for _, r := range routesFor(p, link.Attrs().Index, uplink) {
		if err := netlink.RouteReplace(&r); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to add route to %v: %w", r.Dst, err), undo())
		}
		slog.Debug("Added route", "dst", r.Dst, "gw", r.Gw, "link", r.LinkIndex, "metric", r.Priority)
		added = append(added, r)
	}
	return undo, nil
}

// findUplink returns the default IPv4 route that does not use the adapter.
func findUplink(adapterIndex int) (netlink.Route, error) {
	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4, &netlink.Route{Dst: nil}, 0)
	if err != nil {
		return netlink.Route{}, fmt.Errorf("failed to list routes: %w", err)
	}
	for _, r := range routes {
		if isDefault(r) && r.Gw != nil && r.LinkIndex != adapterIndex {
			return r, nil
		}
	}
	return netlink.Route{}, errors.New("no default route to keep bypass hosts on")
}

func isDefault(r netlink.Route) bool {
	if r.Dst == nil {
		return true
	}
	ones, _ := r.Dst.Mask.Size()
	return ones == 0
}

// routesFor lists the routes that implement p: one host route per bypass host through the uplink, then the default
// route through the spoofed gateway.
func routesFor(p Plan, adapterIndex int, uplink netlink.Route) []netlink.Route {
	routes := make([]netlink.Route, 0, len(p.Bypass)+1)
	for _, h := range p.Bypass {
		routes = append(routes, netlink.Route{
			LinkIndex: uplink.LinkIndex,
			Dst:       prefixToIPNet(netip.PrefixFrom(h, 32)),
			Gw:        uplink.Gw,
		})
	}
	return append(routes, netlink.Route{
		LinkIndex: adapterIndex,
		Dst:       prefixToIPNet(netip.PrefixFrom(netip.IPv4Unspecified(), 0)),
		Gw:        net.IP(p.Gateway.AsSlice()),
		Priority:  p.Metric,
	})
}

func prefixToIPNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}
