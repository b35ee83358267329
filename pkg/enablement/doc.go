// Package enablement keeps track of which shortcodes an administrator has turned off.
//
// The disabled set is persisted as a single option holding a JSON object of
// name -> "1". Input reaching the store is never trusted: Sanitize keeps only names
// that are currently discovered and explicitly marked, which also drops stale names
// left behind by shortcodes that were removed from disk. Filter applies the set to a
// catalog across every kind, so disabling a shortcode also disables its assets.
package enablement
