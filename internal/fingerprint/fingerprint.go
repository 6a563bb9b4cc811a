package fingerprint

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

const (
	Unknown       = "Unknown"
	GenericDevice = "Other"

	ipv4MappedPrefix = "::ffff:"
)

// Device is what the user-agent string says about the visitor's client.
type Device struct {
	BrowserFamily  string
	BrowserVersion string
	OS             string
	DeviceFamily   string
	IsMobile       bool
	IsBot          bool
}

// Extractor derives the visitor address and device from a request.
// LoopbackSubstitute replaces loopback addresses so local runs still
// geolocate; an empty value keeps loopback addresses as they are.
type Extractor struct {
	LoopbackSubstitute string
}

// Address returns the normalized client address and whether the loopback
// substitute was applied.
func (e Extractor) Address(header http.Header, remoteAddr string) (string, bool) {
	addr := ClientAddress(header.Get("X-Forwarded-For"), remoteAddr)
	if e.LoopbackSubstitute != "" && IsLoopback(addr) {
		return e.LoopbackSubstitute, true
	}
	return addr, false
}

// ClientAddress prefers the first hop of X-Forwarded-For and falls back to
// the transport peer. The rest of a forwarded chain is untrusted.
func ClientAddress(forwardedFor, remoteAddr string) string {
	if first, _, _ := strings.Cut(forwardedFor, ","); strings.TrimSpace(first) != "" {
		return stripMapped(strings.TrimSpace(first))
	}

	addr := strings.TrimSpace(remoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return stripMapped(addr)
}

// IsLoopback reports the two loopback spellings seen from local clients.
func IsLoopback(addr string) bool {
	return addr == "::1" || addr == "127.0.0.1"
}

func stripMapped(addr string) string {
	return strings.TrimPrefix(addr, ipv4MappedPrefix)
}

// ParseUserAgent never fails; unparseable input yields Unknown/Other fields.
func ParseUserAgent(raw string) Device {
	d := Device{
		BrowserFamily: Unknown,
		OS:            Unknown,
		DeviceFamily:  GenericDevice,
	}
	if strings.TrimSpace(raw) == "" {
		return d
	}

	ua := useragent.New(raw)

	if name, version := ua.Browser(); name != "" {
		d.BrowserFamily = name
		d.BrowserVersion = version
	}
	if os := ua.OS(); os != "" {
		d.OS = os
	}

	switch {
	case ua.Model() != "":
		d.DeviceFamily = ua.Model()
	case ua.Mobile() && ua.Platform() != "":
		d.DeviceFamily = ua.Platform()
	case ua.Mobile():
		d.DeviceFamily = "Mobile"
	}

	d.IsMobile = d.DeviceFamily != GenericDevice
	d.IsBot = ua.Bot()

	return d
}
