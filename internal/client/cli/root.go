package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/nodesync/internal/client/app"
	"github.com/dmitrijs2005/nodesync/internal/client/events"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"github.com/spf13/cobra"
)

// Client is the command surface of the local application. *app.App
// satisfies it.
type Client interface {
	Register(ctx context.Context, email, password string) (*wire.RegisterResponse, error)
	Login(ctx context.Context, email, password string) (*metadata.Session, error)
	Logout(ctx context.Context) error
	Session() *metadata.Session
	Workspaces(ctx context.Context) ([]*models.Workspace, error)
	Create(ctx context.Context, in app.CreateInput) (*models.Node, error)
	Update(ctx context.Context, nodeID string, patch models.Attributes) (*models.Node, error)
	Delete(ctx context.Context, nodeID string) (*models.Node, error)
	Tree(ctx context.Context, workspaceID string) ([]*app.TreeNode, error)
	Pending(ctx context.Context, workspaceID string) ([]*models.Transaction, error)
	Status(ctx context.Context) (*app.Status, error)
	AttachFile(ctx context.Context, parentID, path string) (*models.Node, error)
	Run(ctx context.Context) error
	Events(buffer int) (<-chan events.Event, func())
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format    string
	Workspace string

	client Client
	in     *bufio.Reader
	shell  bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Prompts for values missing from
// the command line read from in.
func NewRootCommand(c Client, in *bufio.Reader) *cobra.Command {
	return newRoot(&RootOptions{client: c, in: in})
}

func newRoot(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "nodesync",
		Short:         "Offline-first workspace client",
		Long:          "Edit workspace content locally and replicate it with the nodesync server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Workspace, "workspace", "w", "", "workspace id (defaults to the personal workspace)")

	cmd.AddCommand(
		newRegisterCommand(opts),
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newWorkspacesCommand(opts),
		newCreateCommand(opts),
		newUpdateCommand(opts),
		newDeleteCommand(opts),
		newTreeCommand(opts),
		newPendingCommand(opts),
		newUploadCommand(opts),
		newStatusCommand(opts),
	)
	if !opts.shell {
		cmd.AddCommand(newRunCommand(opts), newShellCommand(opts))
	}
	return cmd
}

// Execute runs the command line args against c.
func Execute(ctx context.Context, c Client, in *bufio.Reader, args []string) error {
	cmd := NewRootCommand(c, in)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// workspace returns the --workspace flag or, when unset, the signed-in
// account's first workspace.
func (o *RootOptions) workspace(ctx context.Context) (string, error) {
	if o.Workspace != "" {
		return o.Workspace, nil
	}
	list, err := o.client.Workspaces(ctx)
	if err != nil {
		return "", err
	}
	for _, w := range list {
		if w.Role == models.RoleOwner {
			return w.ID, nil
		}
	}
	if len(list) == 0 {
		return "", errors.New("no workspaces known yet; log in or run a sync first")
	}
	return list[0].ID, nil
}
