// Command dashsync loads dashboard screens from a remote API, runs bulk
// operations on them and serves computed views over HTTP.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
