package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/basket/asis/internal/actions"
	"github.com/basket/asis/internal/config"
	"github.com/basket/asis/internal/gateway"
	"github.com/basket/asis/internal/shared"
)

var (
	okStyle   = color.New(color.FgGreen, color.Bold)
	failStyle = color.New(color.FgRed, color.Bold)
	keyStyle  = color.New(color.FgCyan)
	dimStyle  = color.New(color.Faint)
)

func newExecCmd(opts *rootOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "exec <intent> [payload-json|-]",
		Short: "Run one intent in-process and print the result",
		Long: "Runs an intent against the local database and collaborators without a daemon.\n" +
			"The payload is a JSON object, a JSON array (batch), or - to read it from stdin.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(args[1:], cmd.InOrStdin())
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			a, err := buildAssistant(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			pretty := !raw && isatty.IsTerminal(os.Stdout.Fd())
			code := runExec(cmd.Context(), a.actions, args[0], payload, cmd.OutOrStdout(), pretty)
			if n := a.jobs.PendingCount(); n > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d reminder job(s) only run while `asis serve` is up\n", n)
			}
			if code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "json", false, "print the raw JSON result")
	return cmd
}

func readPayload(args []string, stdin io.Reader) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	src := args[0]
	if src == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		src = string(b)
	}
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	if !json.Valid([]byte(src)) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(src), nil
}

// runExec dispatches one intent and writes the result. It returns the
// process exit code: 0 on success, 1 when the result reports failure.
func runExec(ctx context.Context, exec gateway.Executor, intent string, payload json.RawMessage, out io.Writer, pretty bool) int {
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	res := exec.Execute(ctx, intent, payload)

	if !pretty {
		enc := json.NewEncoder(out)
		enc.SetEscapeHTML(false)
		_ = enc.Encode(res)
	} else {
		printResult(out, res)
	}
	if !res.Success {
		return 1
	}
	return 0
}

func printResult(out io.Writer, res actions.Result) {
	if !res.Success {
		failStyle.Fprint(out, "✗ ")
		fmt.Fprint(out, res.Error)
		if res.ErrorKind != "" {
			dimStyle.Fprintf(out, " (%s)", res.ErrorKind)
		}
		fmt.Fprintln(out)
		return
	}
	okStyle.Fprint(out, "✓ ")
	fmt.Fprintln(out, res.Message)

	keys := make([]string, 0, len(res.Fields))
	for k := range res.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b, err := json.MarshalIndent(res.Fields[k], "  ", "  ")
		if err != nil {
			continue
		}
		keyStyle.Fprintf(out, "  %s: ", k)
		fmt.Fprintln(out, string(b))
	}
}

func newIntentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "List supported intents",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printIntents(cmd.OutOrStdout(), actions.Intents())
		},
	}
}

func printIntents(out io.Writer, intents []actions.Intent) {
	for _, in := range intents {
		keyStyle.Fprintf(out, "%-24s", string(in))
		if in.Batchable() {
			dimStyle.Fprint(out, " batch")
		}
		fmt.Fprintln(out)
	}
}
