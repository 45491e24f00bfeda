// Package config loads the static topology a netcore process starts
// with: its network interfaces and, for a router process, its
// forwarding table. A malformed topology is a startup-time operator
// error, so Load returns it rather than falling back to a zero value.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// InterfaceConfig describes one network interface to bring up.
type InterfaceConfig struct {
	Name       string `yaml:"name"`
	MAC        string `yaml:"mac"`
	IP         string `yaml:"ip"`
	CaptureOut string `yaml:"capture_out,omitempty"`
}

// RouteConfig describes one entry to install in a router's forwarding
// table.
type RouteConfig struct {
	Prefix       string `yaml:"prefix"`
	PrefixLength uint8  `yaml:"prefix_length"`
	NextHop      string `yaml:"next_hop,omitempty"` // empty means directly attached
	Interface    string `yaml:"interface"`
}

// Topology is the full static configuration for a netcore process.
type Topology struct {
	Interfaces []InterfaceConfig `yaml:"interfaces"`
	Routes     []RouteConfig     `yaml:"routes,omitempty"`
}

// Load reads and parses a topology file from disk.
func Load(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var top Topology
	if err := yaml.Unmarshal(data, &top); err != nil {
		return Topology{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := top.Validate(); err != nil {
		return Topology{}, fmt.Errorf("config: %s: %w", path, err)
	}

	slog.Info("config: loaded topology", "path", path, "interfaces", len(top.Interfaces), "routes", len(top.Routes))
	return top, nil
}

// Validate checks that every interface has a parseable MAC and IP, and
// that every route refers to a declared interface by name.
func (t Topology) Validate() error {
	names := make(map[string]bool, len(t.Interfaces))
	for _, ifc := range t.Interfaces {
		if ifc.Name == "" {
			return fmt.Errorf("interface with empty name")
		}
		if _, err := net.ParseMAC(ifc.MAC); err != nil {
			return fmt.Errorf("interface %q: invalid mac %q: %w", ifc.Name, ifc.MAC, err)
		}
		if net.ParseIP(ifc.IP) == nil {
			return fmt.Errorf("interface %q: invalid ip %q", ifc.Name, ifc.IP)
		}
		names[ifc.Name] = true
	}

	for i, route := range t.Routes {
		if net.ParseIP(route.Prefix) == nil {
			return fmt.Errorf("route %d: invalid prefix %q", i, route.Prefix)
		}
		if route.PrefixLength > 32 {
			return fmt.Errorf("route %d: prefix length %d exceeds 32", i, route.PrefixLength)
		}
		if route.NextHop != "" && net.ParseIP(route.NextHop) == nil {
			return fmt.Errorf("route %d: invalid next hop %q", i, route.NextHop)
		}
		if !names[route.Interface] {
			return fmt.Errorf("route %d: unknown interface %q", i, route.Interface)
		}
	}
	return nil
}
