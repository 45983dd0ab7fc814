// Command netengine runs the connectivity-aware network engine.
package main

import (
	"os"

	"github.com/roach88/netengine/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
