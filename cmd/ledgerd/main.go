package main

import "github.com/ledgerline/ledgerd/internal/cli"

func main() {
	cli.Execute()
}
