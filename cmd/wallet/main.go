package main

import (
	"os"

	"github.com/rawblock/veilwallet/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
