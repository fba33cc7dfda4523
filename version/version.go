// Package version reports the build identity of the zdb binaries.
package version

import (
	"fmt"
	"io"
	"os"
)

// mainpkg is the canonical module path the binaries are built under.
var mainpkg = "github.com/zdbio/zdb"

// version is set by hand ahead of a release and overridden at link time via
// -ldflags "-X github.com/zdbio/zdb/version.version=...".
var version = "v0.0.0+unknown"

// revision is filled in at link time with the VCS revision used to build.
var revision = ""

// Package returns the canonical module import path.
func Package() string {
	return mainpkg
}

// Version returns the module version the running binary was built from.
func Version() string {
	return version
}

// Revision returns the VCS revision used to build the program.
func Revision() string {
	return revision
}

// FprintVersion writes "<cmd> <pkg> <version>" followed by a newline.
func FprintVersion(w io.Writer) {
	fmt.Fprintln(w, os.Args[0], Package(), Version())
}

// PrintVersion writes the version information to stdout.
func PrintVersion() {
	FprintVersion(os.Stdout)
}
