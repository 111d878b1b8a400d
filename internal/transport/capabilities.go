package transport

import (
	"net"
	"os"
	"strings"
)

// Runtime families recognised by DetectCapabilities.
const (
	FamilyNative  = "native"
	FamilyProxied = "proxied"
	FamilyTunnel  = "tunnel"
	FamilyForced  = "forced-polling"
)

// Capabilities describes what the local runtime can be trusted to carry.
// The negotiation policy keys off this descriptor, never off a runtime name.
type Capabilities struct {
	Family             string
	FullDuplexReliable bool
	Reasons            []string
}

// FullDuplex returns capabilities for a runtime with no known quirks.
func FullDuplex() Capabilities {
	return Capabilities{Family: FamilyNative, FullDuplexReliable: true}
}

// PollingOnly returns capabilities for a runtime that must never attempt
// the full-duplex transport.
func PollingOnly(reason string) Capabilities {
	return Capabilities{Family: FamilyForced, Reasons: []string{reason}}
}

// proxyEnv lists variables whose presence means traffic goes through an
// intercepting proxy that commonly drops upgraded connections.
var proxyEnv = []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"}

// DetectCapabilities inspects configuration and the local network.
func DetectCapabilities(forcePolling bool) Capabilities {
	ifaces, _ := net.Interfaces()
	return detect(forcePolling, os.Getenv, interfaceInfos(ifaces))
}

type ifaceInfo struct {
	name string
	up   bool
	loop bool
	ips  []net.IP
}

func interfaceInfos(ifaces []net.Interface) []ifaceInfo {
	infos := make([]ifaceInfo, 0, len(ifaces))
	for _, iface := range ifaces {
		info := ifaceInfo{
			name: iface.Name,
			up:   iface.Flags&net.FlagUp != 0,
			loop: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					info.ips = append(info.ips, v.IP)
				case *net.IPAddr:
					info.ips = append(info.ips, v.IP)
				}
			}
		}
		infos = append(infos, info)
	}
	return infos
}

func detect(forcePolling bool, getenv func(string) string, ifaces []ifaceInfo) Capabilities {
	if forcePolling {
		return PollingOnly("polling forced by configuration")
	}

	for _, key := range proxyEnv {
		if getenv(key) != "" {
			return Capabilities{
				Family:  FamilyProxied,
				Reasons: []string{key + " is set"},
			}
		}
	}

	if reason, ok := tunnelled(ifaces); ok {
		return Capabilities{Family: FamilyTunnel, Reasons: []string{reason}}
	}

	return FullDuplex()
}

// tunnelled reports whether the host routes through a VPN or carrier-grade
// NAT. Middleboxes on those paths reap idle upgraded sockets.
func tunnelled(ifaces []ifaceInfo) (string, bool) {
	_, cgnatBlock, _ := net.ParseCIDR("100.64.0.0/10")

	for _, iface := range ifaces {
		if !iface.up || iface.loop {
			continue
		}

		name := strings.ToLower(iface.name)
		for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
			if strings.Contains(name, marker) {
				return "tunnel interface " + iface.name, true
			}
		}

		for _, ip := range iface.ips {
			if cgnatBlock.Contains(ip) {
				return "CGNAT address on " + iface.name, true
			}
		}
	}
	return "", false
}
