package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/client/app"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/spf13/cobra"
)

const labelWidth = 40

// output writes v as JSON or calls text, depending on --format.
func (o *RootOptions) output(cmd *cobra.Command, v any, text func(w io.Writer) error) error {
	w := cmd.OutOrStdout()
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// label picks a human name for a node from its attributes.
func label(n *models.Node) string {
	for _, k := range []string{"title", "name", "text"} {
		if s, ok := n.Attributes[k].(string); ok && s != "" {
			s = strings.Join(strings.Fields(s), " ")
			if r := []rune(s); len(r) > labelWidth {
				s = string(r[:labelWidth-3]) + "..."
			}
			return s
		}
	}
	return "(untitled)"
}

func nodeLine(n *models.Node) string {
	line := fmt.Sprintf("%s [%s] %s", label(n), n.Type, n.ID)
	if !n.Synced() {
		line += " *"
	}
	return line
}

// renderTree draws the forest with box-drawing connectors. Nodes with local
// changes not yet acknowledged carry a trailing "*".
func renderTree(w io.Writer, roots []*app.TreeNode) error {
	if len(roots) == 0 {
		_, err := fmt.Fprintln(w, "(empty)")
		return err
	}
	var b strings.Builder
	for _, r := range roots {
		b.WriteString(nodeLine(r.Node))
		b.WriteByte('\n')
		renderChildren(&b, r.Children, "")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func renderChildren(b *strings.Builder, children []*app.TreeNode, prefix string) {
	for i, c := range children {
		branch, next := "├── ", "│   "
		if i == len(children)-1 {
			branch, next = "└── ", "    "
		}
		b.WriteString(prefix + branch + nodeLine(c.Node) + "\n")
		renderChildren(b, c.Children, prefix+next)
	}
}

func renderWorkspaces(w io.Writer, list []*models.Workspace) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tROLE")
	for _, ws := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ws.ID, ws.Name, ws.Role)
	}
	return tw.Flush()
}

func renderPending(w io.Writer, txs []*models.Transaction) error {
	if len(txs) == 0 {
		_, err := fmt.Fprintln(w, "nothing pending")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "TRANSACTION\tOP\tNODE\tTYPE\tVERSION\tCREATED")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			tx.ID, tx.Operation, tx.NodeID, tx.NodeType, tx.Version, tx.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func renderStatus(w io.Writer, st *app.Status) error {
	tw := newTable(w)
	if st.AccountID == "" {
		fmt.Fprintln(tw, "account:\t(signed out)")
	} else {
		fmt.Fprintf(tw, "account:\t%s (%s)\n", st.AccountID, st.Email)
	}
	fmt.Fprintf(tw, "device:\t%s\n", st.DeviceID)
	conn := st.Connection.String()
	if !st.Running {
		conn = "offline (sync not running)"
	} else if st.Paused() {
		conn += " (syncing paused)"
	}
	fmt.Fprintf(tw, "connection:\t%s\n", conn)
	fmt.Fprintf(tw, "pending:\t%d\n", st.PendingTotal())
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(st.Workspaces) > 0 {
		fmt.Fprintln(w)
		tw = newTable(w)
		fmt.Fprintln(tw, "WORKSPACE\tNAME\tROLE\tPENDING\tCURSOR")
		for _, ws := range st.Workspaces {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", ws.ID, ws.Name, ws.Role, ws.Pending, ws.Cursor)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(st.Jobs) > 0 {
		fmt.Fprintln(w)
		tw = newTable(w)
		fmt.Fprintln(tw, "JOB KEY\tSTATE\tTYPE\tATTEMPTS")
		for _, j := range st.Jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", j.Key, j.State, j.JobType, j.Attempts)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
