// ABOUTME: Build version and product identity
// ABOUTME: Reported in logs, mDNS TXT records and upstream session starts
package version

// Version is overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.3.0"

const (
	Product      = "avslink"
	Manufacturer = "avslink"
)
