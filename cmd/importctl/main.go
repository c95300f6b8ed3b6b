// Command importctl runs point imports from the command line and manages the
// ledger schema.
//
//	importctl run points.csv --delimiter ';' --encoding windows-1252
//	importctl history --limit 20
//	importctl migrate
package main

import (
	"errors"
	"os"

	"github.com/JonMunkholm/pointsimport/internal/config"
)

func main() {
	root := newRootCmd(config.Load)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errImportFailed) {
			root.PrintErrln(errorLine(err))
		}
		os.Exit(1)
	}
}
