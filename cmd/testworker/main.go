// Command testworker is a test-execution worker process. A build tool's
// host launches it, assigns it an identity and drives it over a channel on
// stdio or gRPC.
package main

import (
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
