// Package proxy adapts Fiber requests to the interception boundary. Requests
// the worker claims are answered by the routed strategy; everything else is
// relayed to the upstream unchanged.
package proxy
