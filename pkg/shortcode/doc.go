/*
Package shortcode discovers shortcode bundles on the filesystem.

A bundle is the set of files sharing one shortcode name: a code file (an html/template
with a ".tmpl.html" extension) and optional ".js" and ".css" assets. Bundles are found by
expanding directory glob patterns once per kind and are indexed into a Catalog keyed by
kind and then by name.

When two paths in the same kind resolve to the same name the last one discovered wins.
Patterns are expanded in the order given, and paths within a pattern in lexical order, so
a search root added later overrides the ones before it. Every overwrite is reported as a
Collision and logged.
*/
package shortcode
