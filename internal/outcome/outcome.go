// Package outcome is the tagged result returned across the tool boundary.
//
// Agents read results as text, so every Outcome renders to a single string.
// The Kind is kept alongside so transports can flag errors without parsing
// the prefix.
package outcome

import (
	"fmt"
	"strings"
)

// Kind distinguishes ordinary results from recoverable failures.
type Kind int

const (
	KindOK Kind = iota
	KindError
	KindBlock
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindBlock:
		return "block"
	default:
		return "ok"
	}
}

// Wire prefixes. Hosts branch on these.
const (
	ErrorPrefix = "ERROR:"
	BlockPrefix = "GOVERNANCE BLOCK:"
)

// Block is an authoritative refusal with enough context for an agent to self-correct.
type Block struct {
	What       string
	Why        string
	UseInstead string
	Evidence   string
}

// Error implements error so blocks can travel through error-returning code.
func (b *Block) Error() string { return b.String() }

func (b *Block) String() string {
	var sb strings.Builder
	sb.WriteString(BlockPrefix)
	sb.WriteString(" ")
	sb.WriteString(b.What)
	if b.Why != "" {
		sb.WriteString("\nWHY: ")
		sb.WriteString(b.Why)
	}
	if b.UseInstead != "" {
		sb.WriteString("\nUSE INSTEAD: ")
		sb.WriteString(b.UseInstead)
	}
	if b.Evidence != "" {
		sb.WriteString("\nEVIDENCE: ")
		sb.WriteString(b.Evidence)
	}
	return sb.String()
}

// Outcome is the result of one governance operation.
type Outcome struct {
	Kind  Kind
	Text  string
	Block *Block
}

// OK returns a successful outcome.
func OK(format string, args ...any) Outcome {
	return Outcome{Kind: KindOK, Text: fmt.Sprintf(format, args...)}
}

// Errorf returns a validation failure with a one-line fix suggestion.
func Errorf(fix string, format string, args ...any) Outcome {
	text := ErrorPrefix + " " + fmt.Sprintf(format, args...)
	if fix != "" {
		text += "\nFIX: " + fix
	}
	return Outcome{Kind: KindError, Text: text}
}

// Blocked wraps a Block.
func Blocked(b *Block) Outcome {
	return Outcome{Kind: KindBlock, Text: b.String(), Block: b}
}

// String renders the wire text.
func (o Outcome) String() string { return o.Text }

// IsFailure reports whether the outcome is an error or a block.
func (o Outcome) IsFailure() bool { return o.Kind != KindOK }

// Classify recovers the kind from rendered text, for hosts that only keep strings.
func Classify(text string) Kind {
	switch {
	case strings.HasPrefix(text, BlockPrefix):
		return KindBlock
	case strings.HasPrefix(text, ErrorPrefix):
		return KindError
	default:
		return KindOK
	}
}
