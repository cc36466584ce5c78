package main

import (
	"os"

	"agency-dashboard/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
