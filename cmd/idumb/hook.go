package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jaakkos/idumb/internal/hooks"
)

func hookCmd() *cobra.Command {
	names := make([]string, len(hooks.Events))
	for i, e := range hooks.Events {
		names[i] = string(e)
	}
	return &cobra.Command{
		Use:   "hook <event>",
		Short: "Run one host hook: JSON in on stdin, JSON out on stdout",
		Long: `Run one host lifecycle hook. Reads a single JSON object on stdin and writes a
single JSON object on stdout. The exit status is always 0; blocks are reported
in the body as {"block": true, "reason": "..."}.

Events: ` + strings.Join(names, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			runHook(args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			return nil
		},
	}
}

// runHook never fails: anything that goes wrong degrades to a pass-through.
func runHook(name string, in io.Reader, out, stderr io.Writer) {
	ev, err := hooks.ParseEvent(name)
	if err != nil {
		fmt.Fprintf(stderr, "idumb: %v\n", err)
		_ = hooks.PassThrough(in, out)
		return
	}
	rt, err := openRuntime(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "idumb: %v\n", err)
		_ = hooks.PassThrough(in, out)
		return
	}
	defer rt.close()

	// One process per event: counters would die with it. `idumb serve` counts
	// hooks posted to /hooks/{event}.
	h := hooks.New(rt.svc, rt.logger)
	if err := h.Serve(ev, in, out); err != nil {
		rt.logger.Error("write hook response", zap.String("hook", name), zap.Error(err))
	}
}
