package main

import (
	"os"

	"github.com/headlessweb/hweb/cli"
)

func main() {
	os.Exit(cli.Execute())
}
