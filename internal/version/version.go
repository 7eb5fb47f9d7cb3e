// ABOUTME: Version and product identification
// ABOUTME: Shown by --version and attached to metrics resources
package version

import "fmt"

// Version is overridden at build time with -ldflags "-X .../version.Version=..."
var Version = "0.3.0"

const (
	Product      = "trackbridge"
	Manufacturer = "Resonate"
)

// String returns the product and version for display
func String() string {
	return fmt.Sprintf("%s %s", Product, Version)
}
