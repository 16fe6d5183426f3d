package version

import "fmt"

// Version/Commit are injected at build time via -ldflags; these are dev
// placeholders otherwise.
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full returns the version string the CLI prints for `vein --version`.
func Full() string {
	return fmt.Sprintf("vein %s (%s)", Version, Commit)
}
