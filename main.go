package main

import (
	"os"

	"github.com/ftahirops/streamvis/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
