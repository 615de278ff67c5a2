package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/nodesync/internal/client/app"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/spf13/cobra"
)

// ParseAttributes turns key=value words into attributes. A value that parses
// as JSON keeps its JSON type, so size=12 is a number and title=null removes
// the key on update. Anything else is a string.
func ParseAttributes(words []string) (models.Attributes, error) {
	attrs := models.Attributes{}
	for _, w := range words {
		k, v, ok := strings.Cut(w, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("attribute %q: want key=value", w)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			attrs[k] = decoded
		} else {
			attrs[k] = v
		}
	}
	return attrs, nil
}

func printNode(opts *RootOptions, cmd *cobra.Command, verb string, n *models.Node) error {
	return opts.output(cmd, n, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s %s [%s] v%d\n", verb, n.ID, n.Type, n.Version)
		return err
	})
}

func newWorkspacesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "workspaces",
		Short: "List the workspaces of the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.client.Workspaces(cmd.Context())
			if err != nil {
				return err
			}
			return opts.output(cmd, list, func(w io.Writer) error { return renderWorkspaces(w, list) })
		},
	}
}

func newCreateCommand(opts *RootOptions) *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "create <type> [key=value...]",
		Short: "Create a node",
		Long: `Create a node locally. It is pushed the next time sync runs.

Types: space, page, database, record, message, file. Every type except space
needs --parent.

Example:
  nodesync create space name=Home
  nodesync create page -p <space-id> title="Reading list"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nt := models.NodeType(args[0])
			if !nt.Valid() {
				return fmt.Errorf("unknown node type %q", args[0])
			}
			attrs, err := ParseAttributes(args[1:])
			if err != nil {
				return err
			}
			in := app.CreateInput{Type: nt, ParentID: parent, Attributes: attrs}
			if parent == "" {
				if in.WorkspaceID, err = opts.workspace(cmd.Context()); err != nil {
					return err
				}
			}
			n, err := opts.client.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printNode(opts, cmd, "created", n)
		},
	}
	cmd.Flags().StringVarP(&parent, "parent", "p", "", "parent node id")
	return cmd
}

func newUpdateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <node-id> key=value...",
		Short: "Change node attributes",
		Long: `Change node attributes. Only the given keys change; key=null removes a key.

Example:
  nodesync update <page-id> title="Done" draft=null`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := ParseAttributes(args[1:])
			if err != nil {
				return err
			}
			n, err := opts.client.Update(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			return printNode(opts, cmd, "updated", n)
		},
	}
}

func newDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <node-id>",
		Short: "Delete a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := opts.client.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printNode(opts, cmd, "deleted", n)
		},
	}
}

func newTreeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show the workspace content as a tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wid, err := opts.workspace(cmd.Context())
			if err != nil {
				return err
			}
			roots, err := opts.client.Tree(cmd.Context(), wid)
			if err != nil {
				return err
			}
			return opts.output(cmd, roots, func(w io.Writer) error { return renderTree(w, roots) })
		},
	}
}

func newPendingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List local transactions the server has not acknowledged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wid, err := opts.workspace(cmd.Context())
			if err != nil {
				return err
			}
			txs, err := opts.client.Pending(cmd.Context(), wid)
			if err != nil {
				return err
			}
			return opts.output(cmd, txs, func(w io.Writer) error { return renderPending(w, txs) })
		},
	}
}

func newUploadCommand(opts *RootOptions) *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Attach a local file as a file node",
		Long: `Attach a local file as a file node under --parent. The node is created
right away; the content is uploaded once the node reaches the server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := opts.client.AttachFile(cmd.Context(), parent, args[0])
			if err != nil {
				return err
			}
			return printNode(opts, cmd, "attached", n)
		},
	}
	cmd.Flags().StringVarP(&parent, "parent", "p", "", "parent node id")
	_ = cmd.MarkFlagRequired("parent")
	return cmd
}
