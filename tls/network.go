// Package tls issues the agent's LAN server certificate from a locally
// trusted CA and serves that CA to phones over plain HTTP.
package tls

import (
	"net"
	"os"
	"sort"
	"strings"
)

// loopbackHosts are always covered by the server certificate.
var loopbackHosts = []string{"localhost", "127.0.0.1", "::1"}

// LANAddresses returns the IPv4 addresses of the up, non-loopback interfaces.
func LANAddresses() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var addrs []net.Addr
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		ifAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		addrs = append(addrs, ifAddrs...)
	}
	return ipv4Addresses(addrs), nil
}

// ipv4Addresses extracts the non-loopback IPv4 addresses from addrs.
func ipv4Addresses(addrs []net.Addr) []string {
	var ips []string
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
			ips = append(ips, ip.String())
		}
	}
	return ips
}

// CertificateHosts returns the names the server certificate must cover:
// loopback, the mDNS host name and every LAN address. The list is sorted and
// free of duplicates so it can be compared between runs.
func CertificateHosts() ([]string, error) {
	hosts := append([]string{}, loopbackHosts...)
	if name, err := os.Hostname(); err == nil && name != "" {
		hosts = append(hosts, mdnsHostname(name))
	}

	lan, err := LANAddresses()
	hosts = normalizeHosts(append(hosts, lan...))
	return hosts, err
}

// mdnsHostname turns a machine name into the name it answers to over mDNS.
func mdnsHostname(name string) string {
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	if strings.HasSuffix(name, ".local") {
		return name
	}
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name + ".local"
}

func normalizeHosts(hosts []string) []string {
	seen := make(map[string]bool, len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
