// Package shell classifies shell commands, gates them by role, and runs the
// ones that pass with bounded time and output.
package shell

import (
	"regexp"
	"strings"
)

// Category is the closed set of command categories.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryBuild      Category = "build"
	CategoryGit        Category = "git"
	CategoryInspection Category = "inspection"
	CategoryRuntime    Category = "runtime"
	CategoryFilesystem Category = "filesystem"
	CategoryGeneral    Category = "general"
)

// AllCategories lists every category in table order.
var AllCategories = []Category{
	CategoryValidation, CategoryBuild, CategoryGit, CategoryInspection,
	CategoryRuntime, CategoryFilesystem, CategoryGeneral,
}

type categoryTable struct {
	category Category
	patterns []*regexp.Regexp
}

// classificationTables is matched in order; the first hit wins.
// Validation precedes build so "npm test" is not read as a build step.
var classificationTables = []categoryTable{
	{CategoryValidation, compile(
		`^(go\s+(test|vet)|golangci-lint|staticcheck|govulncheck)\b`,
		`^(npm|pnpm|yarn|bun)\s+(run\s+)?(test|lint|typecheck|check)\b`,
		`^(npx\s+)?(jest|vitest|mocha|eslint|biome\s+check|prettier\s+--check)\b`,
		`^(npx\s+)?tsc\b.*--noEmit\b`,
		`^(pytest|ruff|mypy|flake8|pylint)\b`,
		`^python3?\s+-m\s+(pytest|unittest|mypy)\b`,
		`^cargo\s+(test|clippy|check|fmt\s+--check)\b`,
		`^make\s+(test|check|lint|verify)\b`,
	)},
	{CategoryBuild, compile(
		`^go\s+(build|install|generate|mod)\b`,
		`^(npm|pnpm|yarn|bun)\s+(install|ci|add|build|run\s+build)\b`,
		`^(npx\s+)?tsc\b`,
		`^cargo\s+(build|install|update)\b`,
		`^(make|cmake|gradle|gradlew|mvn|bazel)\b`,
		`^docker\s+build\b`,
		`^pip3?\s+install\b`,
	)},
	{CategoryGit, compile(
		`^git\b`,
		`^gh\s+(pr|issue|repo)\b`,
	)},
	{CategoryInspection, compile(
		`^(ls|cat|head|tail|less|more|grep|egrep|rg|ag|find|fd|wc|pwd|tree|stat|file|which|whoami|echo|printenv|du|df|diff|sort|uniq|jq|cd|date|uname)\b`,
	)},
	{CategoryRuntime, compile(
		`^go\s+run\b`,
		`^(node|deno|python3?|ruby|java|php|perl)\b`,
		`^(npm|pnpm|yarn|bun)\s+(start|run\s+(dev|start|serve))\b`,
		`^(docker|docker-compose|podman|kubectl)\b`,
		`^(curl|wget|http)\b`,
	)},
	{CategoryFilesystem, compile(
		`^(mkdir|touch|cp|mv|rm|rmdir|ln|chmod|chown|tar|unzip|zip|gzip|sed\s+-i)\b`,
	)},
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// segmentSplit separates compound commands.
var segmentSplit = regexp.MustCompile(`\s*(?:&&|\|\||;|\|)\s*`)

// envPrefix strips leading VAR=value assignments.
var envPrefix = regexp.MustCompile(`^(?:[A-Za-z_][A-Za-z0-9_]*=\S*\s+)+`)

// ClassifySegment classifies a single simple command.
func ClassifySegment(segment string) Category {
	s := strings.TrimSpace(segment)
	s = envPrefix.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, "sudo ")
	for _, table := range classificationTables {
		for _, re := range table.patterns {
			if re.MatchString(s) {
				return table.category
			}
		}
	}
	return CategoryGeneral
}

// Segments splits a command line into its simple commands.
func Segments(command string) []string {
	var out []string
	for _, part := range segmentSplit.Split(strings.TrimSpace(command), -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Classify returns the category of a command line. For compound commands the
// first segment that is not plain inspection decides.
func Classify(command string) Category {
	segs := Segments(command)
	if len(segs) == 0 {
		return CategoryGeneral
	}
	for _, seg := range segs {
		if c := ClassifySegment(seg); c != CategoryInspection {
			return c
		}
	}
	return CategoryInspection
}
