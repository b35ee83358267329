/*
Package rewrite scans rendered content for shortcode tags and removes the ones that are
not allowed.

Both operations are lexical. FindPresentTags reports which registered names appear as
tag openers, and StripDisallowed deletes every bracketed token whose name is not in an
allowed list while leaving allowed tags byte-for-byte intact, including attribute values
and self-closing forms that contain slashes.

Neither function understands prose that happens to contain square brackets: "[note]"
in running text is a tag as far as this package is concerned.
*/
package rewrite
