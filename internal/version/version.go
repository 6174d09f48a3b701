// Package version holds build-time version metadata, overridden via
// -ldflags at release build time. It exists so every binary in this module
// can print a consistent one-line banner without depending on an external
// monitoring package that has nothing to do with this domain.
package version

import "fmt"

var (
	Version   = "dev"
	Revision  = "unknown"
	BuildDate = "unknown"
)

// Print formats the one-line version banner each cmd's kingpin.Version call
// emits, matching the "<prog>, version <v> (revision <r>)" shape used
// throughout the pack.
func Print(program string) string {
	return fmt.Sprintf("%s, version %s (revision %s, built %s)", program, Version, Revision, BuildDate)
}
