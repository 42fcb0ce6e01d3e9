package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/prreview/client"
	"github.com/xiaot623/gogo/prreview/internal/domain"
	"github.com/xiaot623/gogo/prreview/internal/reviewio"
)

// Exit codes.
const (
	exitOK        = 0
	exitUsage     = 1
	exitExecution = 2
	exitFileIO    = 3
)

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUsage
}

type options struct {
	server  string
	timeout time.Duration
	follow  bool
	after   int64
}

func newRootCmd(fs afero.Fs, stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "prreview",
		Short:         "Submit pull requests to the review engine and inspect executions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	defaultServer := os.Getenv("PRREVIEW_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "review engine base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "how long to wait for a review")

	root.AddCommand(
		newReviewCmd(fs, opts),
		newStatusCmd(opts),
		newEventsCmd(opts),
		newCancelCmd(opts),
	)
	return root
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt)
}

func newReviewCmd(fs afero.Fs, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <input.json> <output.json>",
		Short: "Review a pull request and write the response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Reading input from: %s\n", args[0])
			req, err := reviewio.ReadRequest(fs, args[0])
			if err != nil {
				var ve *domain.ValidationError
				if errors.As(err, &ve) {
					return &exitError{code: exitExecution, err: err}
				}
				return &exitError{code: exitFileIO, err: err}
			}

			c := client.NewClient(opts.server)
			id, err := c.Submit(ctx, req)
			if err != nil {
				return &exitError{code: exitExecution, err: err}
			}
			fmt.Fprintf(out, "Started execution: %s\n", id)

			if opts.follow {
				err := c.Stream(ctx, id, func(ev domain.Event) error {
					printEvent(out, ev)
					return nil
				})
				if err != nil {
					return &exitError{code: exitExecution, err: err}
				}
			}

			resp, err := c.AwaitResult(ctx, id, opts.timeout)
			if err != nil {
				return &exitError{code: exitExecution, err: err}
			}

			fmt.Fprintf(out, "Writing output to: %s\n", args[1])
			if err := reviewio.WriteResponse(fs, args[1], resp); err != nil {
				return &exitError{code: exitFileIO, err: err}
			}
			fmt.Fprintf(out, "Review completed. Overall recommendation: %s\n", resp.OverallRecommendation)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "print journal events while the review runs")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			exec, err := client.NewClient(opts.server).GetExecution(ctx, args[0])
			if err != nil {
				return &exitError{code: exitExecution, err: err}
			}
			return printJSON(cmd.OutOrStdout(), exec)
		},
	}
}

func newEventsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <execution-id>",
		Short: "List the journal of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			out := cmd.OutOrStdout()
			c := client.NewClient(opts.server)

			if opts.follow {
				err := c.Stream(ctx, args[0], func(ev domain.Event) error {
					if ev.Seq > opts.after {
						printEvent(out, ev)
					}
					return nil
				})
				if err != nil {
					return &exitError{code: exitExecution, err: err}
				}
				return nil
			}

			events, err := c.Events(ctx, args[0], opts.after)
			if err != nil {
				return &exitError{code: exitExecution, err: err}
			}
			for _, ev := range events {
				printEvent(out, ev)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&opts.after, "after", 0, "only show events after this sequence number")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "keep streaming until the execution finishes")
	return cmd
}

func newCancelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel an execution before its next step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			exec, err := client.NewClient(opts.server).Cancel(ctx, args[0])
			if err != nil {
				return &exitError{code: exitExecution, err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Execution %s: %s (cancel requested: %t)\n", exec.ExecutionID, exec.Status, exec.CancelRequested)
			return nil
		},
	}
}

func printEvent(w io.Writer, ev domain.Event) {
	fmt.Fprintf(w, "%4d  %-22s %-14s %s\n", ev.Seq, ev.Kind, ev.StepName, string(ev.Payload))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
