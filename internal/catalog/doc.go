// Package catalog resolves event references against the venue's catalog API.
//
// Resolution maps a slug or id to the event's member outcome tokens. It is
// invoked on subscribe only; the streaming path never touches the catalog.
package catalog
