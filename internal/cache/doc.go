// Package cache defines the partitioned response store behind every caching
// strategy. A partition is a named, durable key→response map (for example
// app-shell-v2 or models-v1); entries are addressed by Locator{Partition, Key}
// where Key is the request path plus query. Drivers: a disk store (temp file +
// rename, CBOR metadata sidecar), a Redis store (msgpack records) and an
// optional ristretto memory tier that can wrap either. Strategies never write
// to a Store directly: they go through Writer, which refuses to persist any
// response whose status is not a full success.
package cache
