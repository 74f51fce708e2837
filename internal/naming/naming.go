// Package naming derives logical template names from template URIs.
//
// The logical name is the base filename with its extension removed, so
// "/tpl/a/widget.handlebars" and "/other/widget.js" both resolve to
// "widget". The collision is intentional: a precompiled script can stand in
// for the raw template it was built from. Distinct templates need distinct
// base filenames.
package naming

import "strings"

// Base returns the substring after the last '/', or uri itself when it has
// no separator.
func Base(uri string) string {
	return uri[strings.LastIndex(uri, "/")+1:]
}

// Ext returns the extension of the base filename including the leading dot,
// or "" when the base filename has none. Dots in directory segments are
// ignored.
func Ext(uri string) string {
	base := Base(uri)
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return ""
	}
	return base[i:]
}

// Resolve returns the logical template name for uri. It never fails; an
// empty uri resolves to "" and a base filename without an extension
// resolves to itself.
func Resolve(uri string) string {
	base := Base(uri)
	if i := strings.LastIndex(base, "."); i >= 0 {
		return base[:i]
	}
	return base
}

// IsDegenerate reports whether uri has no extension. Such a URI still
// resolves to a name but cannot select a loader.
func IsDegenerate(uri string) bool {
	return Ext(uri) == ""
}
