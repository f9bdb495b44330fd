// ABOUTME: Version and product identification
// ABOUTME: Reported in logs, the TUI header, and the network handshake
package version

const (
	Version      = "0.1.0"
	Product      = "Resonate MIDI Router"
	Manufacturer = "Resonate"
)
