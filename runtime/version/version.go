// Package version holds the version of the lightrpc runtime and wire format.
package version

import "fmt"

const (
	Major = 0
	Minor = 1
	Patch = 0
)

// Version is reported in traces and by "lightrpc version".
var Version = SemVer{Major, Minor, Patch}

type SemVer struct {
	Major int
	Minor int
	Patch int
}

func (v SemVer) String() string {
	return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
}
