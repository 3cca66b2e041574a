// Command hchain evolves a chain of two-level sites for 1,000 steps, either in a single
// process or decomposed over several participants.
package main

import (
	"os"

	"github.com/fumin/qchain"
	"github.com/fumin/qchain/cli"
)

func main() {
	os.Exit(cli.Execute("hchain", qchain.Steps))
}
