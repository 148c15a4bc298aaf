package webassets

import "embed"

// FS contains the embedded page templates from this directory.
//
//go:embed callback.html.tmpl
var FS embed.FS
