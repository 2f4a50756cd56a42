// Package canon provides canonical JSON (RFC 8785 style) and
// domain-separated content hashes.
//
// Canonical JSON is the only serialization used for stored payloads and
// content-addressed identity: the same value always yields the same bytes,
// whatever map iteration order or Go type it came from.
package canon
