package handlers

import (
	"bufio"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

// arpTablePath is the kernel neighbour table. Variable for tests.
var arpTablePath = "/proc/net/arp"

// OriginResolver describes who sent r.
type OriginResolver func(r *http.Request) *jobregistry.Origin

// ResolveOrigin returns the client IP and, when the client is on the local
// link, its hardware address from the ARP table. Never fails.
func ResolveOrigin(r *http.Request) *jobregistry.Origin {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return nil
	}
	return &jobregistry.Origin{
		RemoteAddr:   host,
		HardwareAddr: LookupHardwareAddr(host),
	}
}

// LookupHardwareAddr returns the MAC address the ARP table holds for ip,
// or "" when unknown or unsupported on this platform.
func LookupHardwareAddr(ip string) string {
	f, err := os.Open(arpTablePath)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	// IP address  HW type  Flags  HW address  Mask  Device
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		mac := fields[3]
		if mac == "00:00:00:00:00:00" {
			return ""
		}
		if _, err := net.ParseMAC(mac); err != nil {
			return ""
		}
		return mac
	}
	return ""
}
