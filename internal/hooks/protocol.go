package hooks

import (
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Input is the JSON object a host writes to `idumb hook <event>`.
type Input struct {
	SessionID string         `json:"session_id"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Output    string         `json:"output,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Fragments []string       `json:"fragments,omitempty"`
}

// Output is the JSON object written back. Fields the event does not touch
// echo the input so the host can apply the response unconditionally.
type Output struct {
	Block     bool           `json:"block"`
	Reason    string         `json:"reason,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Output    string         `json:"output,omitempty"`
	Fragments []string       `json:"fragments,omitempty"`
}

func passThrough(in Input) Output {
	return Output{Args: in.Args, Output: in.Output, Fragments: in.Fragments}
}

// ParseEvent validates an event name.
func ParseEvent(name string) (Event, error) {
	for _, e := range Events {
		if string(e) == name {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown hook event %q", name)
}

// Dispatch runs the handler for ev against in.
func (h *Handler) Dispatch(ev Event, in Input) Output {
	out := passThrough(in)
	if in.SessionID == "" {
		in.SessionID = "default"
	}
	switch ev {
	case EventToolBefore:
		args, block := h.ToolBefore(in.SessionID, in.Tool, in.Args)
		out.Args = args
		if block != nil {
			out.Block = true
			out.Reason = block.String()
		}
	case EventToolAfter:
		out.Output = h.ToolAfter(in.SessionID, in.Tool, in.Args, in.Output)
	case EventCompacting:
		if block := h.Compacting(in.SessionID); block != "" {
			out.Fragments = append(append([]string{}, in.Fragments...), block)
		}
	case EventSystemTransform:
		out.Fragments = h.SystemTransform(in.SessionID, in.Fragments)
	case EventMessagesTransform:
		out.Fragments = h.MessagesTransform(in.SessionID, in.Fragments)
	case EventChatParams:
		h.ChatParams(in.SessionID, in.Agent)
	}
	return out
}

// Serve reads one Input from r, dispatches it and writes one Output to w.
// Malformed input is logged and answered with an empty pass-through; the
// only error returned is a failed write.
func (h *Handler) Serve(ev Event, r io.Reader, w io.Writer) error {
	var in Input
	out := Output{}
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		h.logger.Error("malformed hook input", zap.String("hook", string(ev)), zap.Error(err))
		h.metrics.ObserveHookFailure(string(ev))
	} else {
		out = h.Dispatch(ev, in)
	}
	return json.NewEncoder(w).Encode(out)
}

// PassThrough echoes the input back unchanged. It is used when governance
// cannot be loaded at all.
func PassThrough(r io.Reader, w io.Writer) error {
	var in Input
	out := Output{}
	if err := json.NewDecoder(r).Decode(&in); err == nil {
		out = passThrough(in)
	}
	return json.NewEncoder(w).Encode(out)
}
