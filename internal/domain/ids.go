package domain

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes per entity kind.
const (
	PrefixPlan       = "wp"
	PrefixTask       = "tn"
	PrefixCheckpoint = "cp"
	PrefixDelegation = "dl"
	PrefixAnchor     = "an"
)

// NewID returns prefix-xxxxxxxxxxxx, short enough for an agent to type back.
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + raw[:12]
}
