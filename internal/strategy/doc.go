// Package strategy defines the request-handling strategies of the gateway and
// the registry they publish themselves into. Each concrete strategy lives in
// its own subpackage and registers a Descriptor from init(); the router binds
// request classes to registered keys.
package strategy
