// Command hchain10k is hchain with 10,000 steps.
package main

import (
	"os"

	"github.com/fumin/qchain"
	"github.com/fumin/qchain/cli"
)

func main() {
	os.Exit(cli.Execute("hchain10k", qchain.StepsExtended))
}
