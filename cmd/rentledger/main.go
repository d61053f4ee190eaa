/*
main.go - Application entry point

PURPOSE:
  Runs the rentledger command line. See cli/root.go for the commands.

EXAMPLES:
  # Run the API with the default config file
  ./rentledger serve

  # Run against an in-memory database on another port
  RENTLEDGER_DB_DSN=":memory:" ./rentledger serve --addr :3000

  # Print the landlord's open items as of June
  ./rentledger statement owner-3 --cutoff 2025-06-30 --pending-only
*/
package main

import "github.com/warp/rent-ledger/cli"

func main() {
	cli.Execute()
}
