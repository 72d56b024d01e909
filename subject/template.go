// Package subject rewrites templated subject patterns into concrete NATS
// subscribe strings and parses incoming subjects back into placeholder
// bindings.
//
// Pattern grammar: dot-separated segments, each a literal, `*` (single
// segment wildcard), `>` (remainder wildcard, passed through) or
// `{name[:kind]}`. Reserved literals `[controller]` and `[action]` expand to
// the controller and action names; the reserved placeholder `version` (or
// `version:apiVersion`) expands to the declared API version. All remaining
// placeholders become `*` at subscribe time. Output is always lowercase.
package subject

import (
	"regexp"
	"strings"
)

const (
	// DefaultVersion is used when a controller declares no API version.
	DefaultVersion = "1"

	tokenController = "[controller]"
	tokenAction     = "[action]"
)

var (
	placeholderRe = regexp.MustCompile(`\{(\w+)(?::\w+)?\}`)
	versionRe     = regexp.MustCompile(`\{version(?::\w+)?\}`)
)

// StripControllerSuffix removes the conventional EventController/Controller
// suffix from a handler type name: "EmployeeEventController" -> "Employee".
func StripControllerSuffix(name string) string {
	if s, ok := strings.CutSuffix(name, "EventController"); ok {
		return s
	}
	if s, ok := strings.CutSuffix(name, "Controller"); ok {
		return s
	}
	return name
}

// Resolve rewrites pattern into the concrete subscribe string for the given
// controller, action and version. Remaining `{name}` placeholders become `*`.
func Resolve(pattern, controller, action, version string) string {
	if version == "" {
		version = DefaultVersion
	}
	s := strings.ReplaceAll(pattern, tokenController, StripControllerSuffix(controller))
	s = strings.ReplaceAll(s, tokenAction, action)
	s = versionRe.ReplaceAllString(s, version)
	s = placeholderRe.ReplaceAllString(s, "*")
	return strings.ToLower(s)
}

// PlaceholderNames returns the non-reserved placeholder names in pattern, in
// order of appearance. The reserved `version` placeholder is excluded because
// it resolves to a literal segment, not a wildcard.
func PlaceholderNames(pattern string) []string {
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(pattern, -1) {
		name := strings.ToLower(m[1])
		if name == "version" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// ParseSubject resolves pattern and binds each wildcard position to the
// corresponding segment of the actual subject, keyed by placeholder name in
// pattern order. A segment-count mismatch yields an empty map: the invoker
// treats that as "no placeholder bindings", not an error. Keys and values are
// lowercase.
func ParseSubject(pattern, controller, action, version, actual string) map[string]string {
	binding := make(map[string]string)

	resolved := Resolve(pattern, controller, action, version)
	patSegs := strings.Split(resolved, ".")
	subSegs := strings.Split(strings.ToLower(actual), ".")
	if len(patSegs) != len(subSegs) {
		return binding
	}

	names := PlaceholderNames(pattern)
	next := 0
	for i, seg := range patSegs {
		if seg != "*" {
			continue
		}
		if next >= len(names) {
			break
		}
		binding[names[next]] = subSegs[i]
		next++
	}
	return binding
}
