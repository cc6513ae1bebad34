// utils/ids.go
package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns an opaque id of the form "<prefix>_<10 hex chars>".
// Entropy comes from a v4 UUID; the prefix tells humans (and log greps)
// what kind of row they are looking at.
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + raw[:10]
}

// Well-known id prefixes.
const (
	PrefixEvent        = "evt"
	PrefixRegistration = "reg"
	PrefixRound        = "rnd"
	PrefixGame         = "gam"
	PrefixTeam         = "tea"
	PrefixTeamRound    = "trd"
	PrefixTeamPairing  = "tpr"
	PrefixAudit        = "aud"
	PrefixReview       = "rvw"
)
