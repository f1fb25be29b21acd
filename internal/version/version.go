// ABOUTME: Version information for the WSR2 binaries
// ABOUTME: Reported in startup logs and -version output
package version

const (
	Version      = "0.1.0"
	Product      = "wsr2-go"
	Manufacturer = "Resonate"
)

// String returns the product and version, e.g. "wsr2-go 0.1.0"
func String() string {
	return Product + " " + Version
}
