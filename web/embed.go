// Package web carries the HTML assets compiled into the binaries.
package web

import "embed"

// Templates holds the work ticket layouts under templates/production.
//
//go:embed templates/production/*.html
var Templates embed.FS
