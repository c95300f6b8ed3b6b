// Package templates renders HTML fragments for browser clients.
//
// Components are written in .templ files; run `templ generate` after
// editing them.
package templates

import "github.com/JonMunkholm/pointsimport/internal/importer"

// reportStatus is the data-status value of a report: success, fatal,
// stopped or partial.
func reportStatus(r importer.ImportReport) string {
	switch {
	case r.Fatal():
		return "fatal"
	case r.Unprocessed > 0:
		return "stopped"
	case !r.Success:
		return "partial"
	}
	return "success"
}

func reportTitle(r importer.ImportReport) string {
	switch reportStatus(r) {
	case "fatal":
		return "Import failed"
	case "stopped":
		return "Import stopped early"
	case "partial":
		return "Import completed with errors"
	}
	return "Import completed"
}
