// Package server hosts the Fiber HTTP service and its middleware chain. It
// assigns request IDs, keeps the /-/ diagnostics namespace out of the proxy
// path, and hands every other request to an injected ProxyHandler so tests can
// swap in fakes. Diagnostics endpoints live in the routes subpackage.
package server
