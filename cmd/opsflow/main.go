package main

import (
	"os"

	"github.com/garyjia/opsflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
