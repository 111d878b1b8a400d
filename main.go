package main

import (
	"os"

	"github.com/bourbonbuddy/tastecast/cmd"
	"github.com/bourbonbuddy/tastecast/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	os.Exit(cmd.Execute())
}
