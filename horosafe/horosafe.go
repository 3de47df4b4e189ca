// Package horosafe provides the security guards plume applies to
// operator-supplied input: URL safety (SSRF prevention for webhook sinks),
// path traversal protection for session and data files, posting-handle
// validation, session-key strength, and bounded response reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// MinKeyLen is the minimum length in bytes for the session-file encryption
// key (256 bits).
const MinKeyLen = 32

// DefaultBodyCap bounds webhook response reads (64 KiB; sinks only need to
// acknowledge).
const DefaultBodyCap int64 = 64 << 10

// ErrKeyTooShort is returned when an encryption key is under MinKeyLen.
var ErrKeyTooShort = fmt.Errorf("horosafe: key must be at least %d bytes", MinKeyLen)

// ErrPathTraversal is returned when a supplied path escapes its base dir.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrSSRF is returned when a URL resolves to a private or loopback address.
var ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned for non-HTTP(S) URLs.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

var privateNets []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"fc00::/7",
		"::1/128",
	} {
		_, n, err := net.ParseCIDR(cidr)
		if err == nil {
			privateNets = append(privateNets, n)
		}
	}
}

// ValidateKey checks that a symmetric key carries at least MinKeyLen bytes.
func ValidateKey(key []byte) error {
	if len(key) < MinKeyLen {
		return ErrKeyTooShort
	}
	return nil
}

// SafePath joins base and name and verifies the result stays under base.
// Used for the session file and archive paths built from identifiers.
func SafePath(base, name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+name))
	baseClean := filepath.Clean(base)
	if cleaned != baseClean && !strings.HasPrefix(cleaned, baseClean+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ValidateOrigin checks that rawURL is a syntactically sound http(s) URL
// with a host. No address resolution: the platform origin may point
// anywhere the operator chooses, including a local fixture server.
func ValidateOrigin(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return errors.New("horosafe: URL has no host")
	}
	return nil
}

// ValidateURL applies ValidateOrigin and additionally rejects URLs whose
// host is, or resolves to, a private or loopback address. Use for anything
// the service itself will fetch (webhook sinks).
func ValidateURL(rawURL string) error {
	if err := ValidateOrigin(rawURL); err != nil {
		return err
	}
	host := urlHostname(rawURL)

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		// Unresolvable now may be a transient DNS issue; the connection
		// attempt will surface the real error.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// ValidateHandle rejects posting-account handles unusable as journal keys
// or URL path segments. Allows alphanumerics, underscore, hyphen and dot,
// up to 64 runes.
func ValidateHandle(s string) error {
	if s == "" {
		return errors.New("horosafe: handle must not be empty")
	}
	if len(s) > 64 {
		return errors.New("horosafe: handle too long (max 64)")
	}
	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
		if !ok {
			return fmt.Errorf("horosafe: invalid character %q in handle", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and errors if more is
// available.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("horosafe: body exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func urlHostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
