// Command geoledgerd is the ledger core's admin CLI entrypoint: the
// background recovery loop plus the integrity/repair operations, run
// from the command line rather than behind an HTTP/WS facade.
package main

import "github.com/slawa19/geoledger/internal/cli"

func main() {
	cli.Execute()
}
