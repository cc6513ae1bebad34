// utils/names.go
package utils

import (
	"strings"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// DisplayName normalizes a free-form name (army, detachment, team name)
// into title case for outgoing notification payloads.
func DisplayName(s string) string {
	return titleCaser.String(strings.TrimSpace(s))
}

// ChannelName builds a stable, chat-safe channel name from its parts,
// e.g. ("GT Finale", "list-review", "AlexW") -> "gt-finale-list-review-alexw".
func ChannelName(parts ...string) string {
	return slug.Make(strings.Join(parts, " "))
}

// RegistryKey addresses a cached message reference by (event, kind).
func RegistryKey(eventID, kind string) string {
	return eventID + ":" + slug.Make(kind)
}
