// Package datadash embeds the built dashboard UI.
package datadash

import "embed"

// WebFS holds the svelte build output. Replace ui/dist with `npm run build`
// output before release builds.
//
//go:embed all:ui/dist
var WebFS embed.FS

// WebRoot is the directory inside WebFS holding index.html.
const WebRoot = "ui/dist"
