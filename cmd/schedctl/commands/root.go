// Package commands implements schedctl, the admin CLI that talks to a
// scheduler's command socket.
package commands

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"obsched/internal/command"
	"obsched/internal/rpc"
)

type options struct {
	network string
	addr    string
	timeout time.Duration
}

func (o *options) client() (*command.Client, func()) {
	raw := rpc.NewClient(o.network, o.addr, o.timeout)
	return command.NewClient(raw), func() { _ = raw.Close() }
}

// NewRootCmd builds a fresh command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:     "schedctl",
		Short:   "Administer a global, site or unit scheduler",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	f := root.PersistentFlags()
	f.StringVar(&opts.network, "network", "unix", "command socket network (unix or tcp)")
	f.StringVar(&opts.addr, "addr", "/run/obsched/global.sock", "command socket address")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-call timeout")

	root.AddCommand(
		entityCmd(opts, command.Site, "site"),
		entityCmd(opts, command.Telescope, "telescope"),
		targetCmd(opts),
		taskCmd(opts),
		statusCmd(opts),
		blockCmd(opts),
		initDBCmd(),
		serviceCmd(),
	)
	return root
}

// withClient runs fn with a connected client bounded by the call timeout.
func withClient(cmd *cobra.Command, opts *options, fn func(ctx context.Context, c *command.Client) error) error {
	c, closeFn := opts.client()
	defer closeFn()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, c)
}

// readDoc returns arg itself, the named file for "@path", or stdin for "-".
func readDoc(cmd *cobra.Command, arg string) ([]byte, error) {
	switch {
	case arg == "-":
		return io.ReadAll(cmd.InOrStdin())
	case strings.HasPrefix(arg, "@"):
		return os.ReadFile(arg[1:])
	}
	return []byte(arg), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (uint64, bool) {
	id, err := strconv.ParseUint(s, 10, 64)
	return id, err == nil
}
