package main

import (
	"os"

	"usagegen/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
