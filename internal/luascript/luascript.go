// Package luascript embeds the server-side script reference_create_from_stream
// needs to snapshot a stream entry atomically with respect to stream
// trimming (spec.md §4.6, §9).
package luascript

import _ "embed"

// ReferenceSource is the Lua source for the atomic stream-entry-to-
// references snapshot. It is loaded once per Element via SCRIPT LOAD
// and invoked thereafter by EVALSHA.
//
//go:embed reference.lua
var ReferenceSource string
