// Package dashboard provides the embedded web UI assets for feedcast.
//
// The dashboard lists the registered sources from /api/sources, opens one
// websocket per source and shows each pushed frame as it arrives. The HTML,
// CSS and JavaScript are embedded at compile time so the server ships as a
// single binary.
//
// The embedded assets are served by the server package at the root path ("/").
// Users of the feedcast library should not need to interact with this package
// directly.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the dashboard web UI.
//
// The filesystem structure is:
//
//	assets/
//	  index.html    - Main dashboard page with inline CSS and JavaScript
//
// The literal {{.Title}} in index.html is replaced with the configured title
// when the page is served.
//
//go:embed assets/*
var Assets embed.FS
