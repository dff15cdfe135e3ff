package shell

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jaakkos/idumb/internal/outcome"
)

// rolePermissions is the static role -> allowed categories matrix.
var rolePermissions = map[string][]Category{
	"coordinator":  {CategoryInspection},
	"governor":     {CategoryInspection, CategoryValidation},
	"planner":      {CategoryInspection},
	"investigator": {CategoryInspection, CategoryValidation},
	"verifier":     {CategoryInspection, CategoryValidation, CategoryBuild, CategoryGit},
	"executor":     AllCategories,
	"builder":      AllCategories,
}

// unknownRolePermissions applies to roles missing from the matrix.
var unknownRolePermissions = []Category{CategoryInspection}

// Roles returns every role in the matrix, sorted.
func Roles() []string {
	roles := make([]string, 0, len(rolePermissions))
	for r := range rolePermissions {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// AllowedCategories returns the categories role may run.
func AllowedCategories(role string) []Category {
	if cats, ok := rolePermissions[role]; ok {
		return cats
	}
	return unknownRolePermissions
}

// DenialRule says why a command was refused.
type DenialRule string

const (
	DenialDestructive DenialRule = "destructive"
	DenialCategory    DenialRule = "category"
)

// Denial is a structured refusal.
type Denial struct {
	Rule     DenialRule
	Role     string
	Command  string
	Pattern  string   // destructive pattern name
	Category Category // classified category of the refused segment
	Allowed  []Category
}

func (d *Denial) Error() string {
	if d.Rule == DenialDestructive {
		return fmt.Sprintf("destructive command refused (%s)", d.Pattern)
	}
	return fmt.Sprintf("role %s may not run %s commands (allowed: %s)", d.Role, d.Category, joinCategories(d.Allowed))
}

// Block renders the denial for an agent.
func (d *Denial) Block() *outcome.Block {
	if d.Rule == DenialDestructive {
		return &outcome.Block{
			What:       fmt.Sprintf("destructive command refused: %s", d.Command),
			Why:        fmt.Sprintf("matches the %q blacklist entry, which no role can override", d.Pattern),
			UseInstead: "a narrower, reversible command (delete specific files, push without force, revert instead of reset), or ask a human operator",
			Evidence:   fmt.Sprintf("pattern=%s role=%s", d.Pattern, d.Role),
		}
	}
	return &outcome.Block{
		What:       fmt.Sprintf("role %s may not run %s commands", d.Role, d.Category),
		Why:        fmt.Sprintf("%q classifies as %s; %s is allowed: %s", d.Command, d.Category, d.Role, joinCategories(d.Allowed)),
		UseInstead: fmt.Sprintf("delegate the command to an agent whose role allows %s (govern_delegate assign), or use an allowed category", d.Category),
		Evidence:   fmt.Sprintf("category=%s allowed=[%s]", d.Category, joinCategories(d.Allowed)),
	}
}

// Authorize checks command for role. The blacklist runs first and ignores role.
// Every segment of a compound command must be allowed.
func Authorize(role, command string) error {
	if name := MatchDestructive(command); name != "" {
		return &Denial{Rule: DenialDestructive, Role: role, Command: command, Pattern: name}
	}
	allowed := AllowedCategories(role)
	segs := Segments(command)
	if len(segs) == 0 {
		segs = []string{command}
	}
	for _, seg := range segs {
		cat := ClassifySegment(seg)
		if !containsCategory(allowed, cat) {
			return &Denial{Rule: DenialCategory, Role: role, Command: command, Category: cat, Allowed: allowed}
		}
	}
	return nil
}

func containsCategory(list []Category, c Category) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

func joinCategories(cats []Category) string {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
