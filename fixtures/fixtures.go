// Package fixtures embeds the CRM scenarios shipped with the runner.
package fixtures

import (
	"embed"
	"io/fs"
)

//go:embed *.yaml
var files embed.FS

// FS returns the embedded scenario files at its root.
func FS() fs.FS {
	return files
}
