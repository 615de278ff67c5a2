package cli

import (
	"io"

	"github.com/spf13/cobra"
)

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session, pending work and sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.client.Status(cmd.Context())
			if err != nil {
				return err
			}
			view := map[string]any{
				"accountId":  st.AccountID,
				"email":      st.Email,
				"deviceId":   st.DeviceID,
				"running":    st.Running,
				"connection": st.Connection.String(),
				"paused":     st.Paused(),
				"pending":    st.PendingTotal(),
				"workspaces": st.Workspaces,
				"jobs":       st.Jobs,
			}
			return opts.output(cmd, view, func(w io.Writer) error { return renderStatus(w, st) })
		},
	}
}
