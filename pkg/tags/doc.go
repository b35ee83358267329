// Package tags is the host side of shortcode rendering: a table of named tag handlers
// and the expander that replaces "[name attr=value]content[/name]" syntax with handler
// output.
//
// A Table is meant to be shared process-wide (see Default) by every subsystem that
// contributes handlers. Snapshot and Restore let a caller temporarily replace the whole
// table and put it back afterwards.
package tags
