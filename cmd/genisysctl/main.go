// Command genisysctl runs and inspects a GENISYS wayside controller. It is
// ambient tooling, not part of the protocol core: serve hosts the
// controller against a dialed link, status/control act as thin HTTP
// clients against a running serve instance's debug surface.
//
// Grounded on the teacher's cmd/iecat, translated from stdlib flag to
// cobra/pflag.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
