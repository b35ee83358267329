// Package inserter ties shortcode discovery, enablement and content rewriting together.
//
// A Manager owns the shortcode catalog for the process: it scans the configured search
// roots, applies the administrator's disabled list and registers the assets of enabled
// shortcodes. A Pipeline renders content against that state. Each render temporarily
// replaces the shared tag table with the enabled shortcodes, strips tags nobody handles,
// queues the assets of the tags in use, expands the content and finally restores the table
// to what it was before, however the render ended.
//
// Code bundles are html/template files. A template is executed with a TagData holding the
// tag's name, attributes and enclosed content, and can expand nested tags with the
// "shortcodes" function. Header fields are read from the first lines of the file:
//
//	{{/*
//	Shortcode Name: Alert Box
//	Shortcode Tinymce Template: [alert type="info"]Message[/alert]
//	*/ -}}
//	<div class="alert alert-{{attr .Attrs "type" "info"}}">{{shortcodes .Content}}</div>
package inserter
