// Package webui embeds the browser playground served by "cinder serve".
package webui

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFS embed.FS

// StaticFS returns an http.FileSystem for the embedded static files.
func StaticFS() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

// Handler serves the playground, with index.html at the root.
func Handler() http.Handler {
	return http.FileServer(StaticFS())
}
