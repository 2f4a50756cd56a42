// Package appdb provides DB, the conventional application state for fxstore:
// an immutable string-keyed map backed by a persistent hash map.
//
// Every update returns a new DB sharing structure with the old one, so
// commits are cheap and earlier versions stay valid for readers that still
// hold them.
package appdb
