package main

import (
	"os"

	"github.com/Iron-Ham/planloop/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
