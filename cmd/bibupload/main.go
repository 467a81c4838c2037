// Package main is the entry point for the bibupload CLI.
package main

import (
	"os"

	"github.com/runger/bibupload/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
