package main

import (
	"os"

	"github.com/gatekeep/gatekeeper/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
