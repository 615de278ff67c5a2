package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dmitrijs2005/nodesync/internal/client/events"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCommand(opts *RootOptions) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replicate with the server until interrupted",
		Long: `Push pending transactions and pull remote changes until interrupted.
While the server is unreachable the client keeps retrying; local edits made
from other invocations are picked up on the next reconnect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			evs, unsubscribe := opts.client.Events(64)
			defer unsubscribe()

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return opts.client.Run(ctx) })
			if !quiet {
				g.Go(func() error {
					w := cmd.OutOrStdout()
					for {
						select {
						case <-ctx.Done():
							return nil
						case e := <-evs:
							fmt.Fprintln(w, formatEvent(e))
						}
					}
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print sync events")
	return cmd
}

func formatEvent(e events.Event) string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	if e.WorkspaceID != "" {
		b.WriteString(" workspace=" + e.WorkspaceID)
	}
	if e.NodeID != "" {
		b.WriteString(" node=" + e.NodeID)
	}
	for _, k := range slices.Sorted(maps.Keys(e.Data)) {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	return b.String()
}

func newShellCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell with sync running in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			w := cmd.OutOrStdout()
			bg := &background{client: opts.client}
			defer bg.stop(cancel)

			bg.start(ctx)
			exec := func(ctx context.Context, words []string) error {
				sub := newRoot(&RootOptions{client: opts.client, in: opts.in, shell: true})
				sub.SetArgs(words)
				sub.SetOut(w)
				sub.SetErr(w)
				err := sub.ExecuteContext(ctx)
				bg.start(ctx)
				return err
			}
			status := func() string {
				if s := opts.client.Session(); s != nil {
					return s.Email
				}
				return "signed out"
			}
			runREPL(ctx, exec, status, opts.in, w)
			return nil
		},
	}
}

// background runs the client's sync loop once a session exists.
type background struct {
	client Client
	done   chan error
}

func (b *background) start(ctx context.Context) {
	if b.done != nil || b.client.Session() == nil {
		return
	}
	b.done = make(chan error, 1)
	go func() { b.done <- b.client.Run(ctx) }()
}

func (b *background) stop(cancel context.CancelFunc) {
	cancel()
	if b.done != nil {
		<-b.done
	}
}
