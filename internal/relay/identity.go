package relay

import (
	"encoding/hex"
	"net"
	"net/url"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/publicsuffix"
)

const fingerprintBytes = 16

// Fingerprint is a stable, non-reversible stand-in for identifiers and client
// addresses in audit rows and counter keys.
func Fingerprint(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(value))
	return hex.EncodeToString(sum[:fingerprintBytes])
}

// OriginDomain reduces an Origin header to its registrable domain, so every
// subdomain of example.co.uk (shop., www.shop.) shares one merchant bucket.
// IP hosts and single-label hosts are returned as is.
func OriginDomain(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "null" {
		return ""
	}
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
