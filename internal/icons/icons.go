// Package icons is the closed registry of icons a link can be shown with.
package icons

import (
	"slices"
	"strings"
)

// Fallback is the key used for unknown or empty icon names
const Fallback = "link"

// Icon is a renderable icon: a label for screen readers and an SVG path
// drawn on a 24x24 viewBox with a stroke.
type Icon struct {
	Key   string
	Label string
	Path  string
}

var registry = map[string]Icon{
	"link": {
		Key:   "link",
		Label: "Link",
		Path:  "M10 13a5 5 0 0 0 7.54.54l3-3a5 5 0 0 0-7.07-7.07l-1.72 1.71M14 11a5 5 0 0 0-7.54-.54l-3 3a5 5 0 0 0 7.07 7.07l1.71-1.71",
	},
	"github": {
		Key:   "github",
		Label: "GitHub",
		Path:  "M9 19c-5 1.5-5-2.5-7-3m14 6v-3.87a3.37 3.37 0 0 0-.94-2.61c3.14-.35 6.44-1.54 6.44-7A5.44 5.44 0 0 0 20 4.77 5.07 5.07 0 0 0 19.91 1S18.73.65 16 2.48a13.38 13.38 0 0 0-7 0C6.27.65 5.09 1 5.09 1A5.07 5.07 0 0 0 5 4.77a5.44 5.44 0 0 0-1.5 3.78c0 5.42 3.3 6.61 6.44 7A3.37 3.37 0 0 0 9 18.13V22",
	},
	"twitter": {
		Key:   "twitter",
		Label: "Twitter",
		Path:  "M23 3a10.9 10.9 0 0 1-3.14 1.53 4.48 4.48 0 0 0-7.86 3v1A10.66 10.66 0 0 1 3 4s-4 9 5 13a11.64 11.64 0 0 1-7 2c9 5 20 0 20-11.5a4.5 4.5 0 0 0-.08-.83A7.72 7.72 0 0 0 23 3z",
	},
	"linkedin": {
		Key:   "linkedin",
		Label: "LinkedIn",
		Path:  "M16 8a6 6 0 0 1 6 6v7h-4v-7a2 2 0 0 0-4 0v7h-4v-7a6 6 0 0 1 6-6zM2 9h4v12H2zM4 2a2 2 0 1 1 0 4 2 2 0 0 1 0-4z",
	},
	"youtube": {
		Key:   "youtube",
		Label: "YouTube",
		Path:  "M22.54 6.42a2.78 2.78 0 0 0-1.94-2C18.88 4 12 4 12 4s-6.88 0-8.6.46a2.78 2.78 0 0 0-1.94 2A29 29 0 0 0 1 11.75a29 29 0 0 0 .46 5.33A2.78 2.78 0 0 0 3.4 19c1.72.46 8.6.46 8.6.46s6.88 0 8.6-.46a2.78 2.78 0 0 0 1.94-2 29 29 0 0 0 .46-5.25 29 29 0 0 0-.46-5.33zM9.75 15.02l5.75-3.27-5.75-3.27v6.54z",
	},
	"instagram": {
		Key:   "instagram",
		Label: "Instagram",
		Path:  "M7 2h10a5 5 0 0 1 5 5v10a5 5 0 0 1-5 5H7a5 5 0 0 1-5-5V7a5 5 0 0 1 5-5zM16 11.37A4 4 0 1 1 12.63 8 4 4 0 0 1 16 11.37zM17.5 6.5h.01",
	},
	"mail": {
		Key:   "mail",
		Label: "Email",
		Path:  "M4 4h16c1.1 0 2 .9 2 2v12c0 1.1-.9 2-2 2H4c-1.1 0-2-.9-2-2V6c0-1.1.9-2 2-2zM22 6l-10 7L2 6",
	},
	"globe": {
		Key:   "globe",
		Label: "Website",
		Path:  "M12 2a10 10 0 1 0 0 20 10 10 0 0 0 0-20zM2 12h20M12 2a15.3 15.3 0 0 1 4 10 15.3 15.3 0 0 1-4 10 15.3 15.3 0 0 1-4-10 15.3 15.3 0 0 1 4-10z",
	},
}

// Lookup returns the icon for key. Keys are case-insensitive; unknown or
// empty keys resolve to the link icon.
func Lookup(key string) Icon {
	if icon, ok := registry[strings.ToLower(strings.TrimSpace(key))]; ok {
		return icon
	}
	return registry[Fallback]
}

// Known reports whether key names a registered icon
func Known(key string) bool {
	_, ok := registry[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// Keys returns every registered key in sorted order, for form pickers
func Keys() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
