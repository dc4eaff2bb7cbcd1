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

// Package provision configures the host so that its traffic is routed through the gateway adapter: the adapter gets
// a static address, a default route points at the spoofed gateway, and a few host routes keep using the original
// uplink.
package provision

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
)

// Plan is the host configuration for one gateway adapter.
type Plan struct {
	// Link is the name of the adapter.
	Link string
	// Local is the address and subnet assigned to the adapter.
	Local netip.Prefix
	// Gateway is the spoofed gateway address, inside Local.
	Gateway netip.Addr
	// Metric is the priority of the default route through Gateway. Lower wins.
	Metric int
	// Bypass holds the hosts that are still reached through the original uplink, such as the relay itself.
	Bypass []netip.Addr
}

// NewPlan validates the settings and returns the resulting [Plan]. Bypass hosts are deduplicated and sorted.
func NewPlan(link string, local netip.Prefix, gateway netip.Addr, metric int, bypass []netip.Addr) (Plan, error) {
	var errs []error
	if link == "" {
		errs = append(errs, errors.New("link name is required"))
	}
	if !local.IsValid() || !local.Addr().Is4() {
		errs = append(errs, fmt.Errorf("local prefix %v must be IPv4", local))
	}
	if !gateway.Is4() {
		errs = append(errs, fmt.Errorf("gateway %v must be IPv4", gateway))
	} else if local.IsValid() {
		if !local.Contains(gateway) {
			errs = append(errs, fmt.Errorf("gateway %v is outside of %v", gateway, local))
		}
		if gateway == local.Addr() {
			errs = append(errs, fmt.Errorf("gateway %v must differ from the local address", gateway))
		}
	}
	if metric < 0 {
		errs = append(errs, fmt.Errorf("metric %d must not be negative", metric))
	}
	hosts := make([]netip.Addr, 0, len(bypass))
	for _, a := range bypass {
		a = a.Unmap()
		if !a.Is4() {
			errs = append(errs, fmt.Errorf("bypass host %v must be IPv4", a))
			continue
		}
		hosts = append(hosts, a)
	}
	if err := errors.Join(errs...); err != nil {
		return Plan{}, err
	}
	slices.SortFunc(hosts, func(a, b netip.Addr) int { return a.Compare(b) })
	return Plan{
		Link:    link,
		Local:   local,
		Gateway: gateway,
		Metric:  metric,
		Bypass:  slices.Compact(hosts),
	}, nil
}

// Steps describes the changes Apply makes, in order, for logging.
func (p Plan) Steps() []string {
	steps := []string{
		fmt.Sprintf("assign %v to %s", p.Local, p.Link),
		fmt.Sprintf("bring %s up", p.Link),
	}
	for _, h := range p.Bypass {
		steps = append(steps, fmt.Sprintf("route %v via the uplink gateway", h))
	}
	return append(steps, fmt.Sprintf("route 0.0.0.0/0 via %v dev %s metric %d", p.Gateway, p.Link, p.Metric))
}
