// Package precache warms the app-shell partition during install: first the
// core asset set (fatal on failure), then every file listed in the build
// manifest (best effort).
package precache
