package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"reactive_kv_store/internal/rpc"
)

type clientOptions struct {
	addr    string
	timeout time.Duration
}

func (o *clientOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.addr, "addr", "", "gRPC address of a running store (server.grpc_addr by default)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 5*time.Second, "request timeout")
}

// dial connects to the store named by --addr, falling back to the
// configured listen address.
func (o *clientOptions) dial(rootOpts *RootOptions) (*rpc.Client, error) {
	addr := o.addr
	if addr == "" {
		addr = rootOpts.Config.Server.GRPCAddr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return rpc.Dial(addr)
}

func (o *clientOptions) withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, o.timeout)
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value of a key as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.dial(rootOpts)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := opts.withTimeout(cmd.Context())
			defer cancel()

			value, err := client.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), value)
		},
	}
	opts.bind(cmd)
	return cmd
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &clientOptions{}
	var merge bool

	cmd := &cobra.Command{
		Use:   "set KEY JSON",
		Short: "Store a JSON value under a key",
		Example: `  kvstore set report_R1 '{"total": 12}'
  kvstore set --merge report_R1 '{"currency": "USD"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				return fmt.Errorf("value is not valid JSON: %w", err)
			}

			client, err := opts.dial(rootOpts)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := opts.withTimeout(cmd.Context())
			defer cancel()

			if merge {
				changes, ok := value.(map[string]any)
				if !ok {
					return fmt.Errorf("--merge requires a JSON object")
				}
				return client.Merge(ctx, args[0], changes)
			}
			return client.Set(ctx, args[0], value)
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", false, "deep-merge the object into the current value")
	opts.bind(cmd)
	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:     "remove KEY",
		Aliases: []string{"rm"},
		Short:   "Remove a key from memory and durable storage",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.dial(rootOpts)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := opts.withTimeout(cmd.Context())
			defer cancel()

			return client.Remove(ctx, args[0])
		},
	}
	opts.bind(cmd)
	return cmd
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "watch PATTERN",
		Short: "Stream changes of a key or collection (report_, policy_, *)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.dial(rootOpts)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			err = client.Subscribe(ctx, args[0], func(change rpc.Change) error {
				if change.Deleted {
					color.New(color.FgRed).Fprintf(out, "%s deleted\n", change.Key)
					return nil
				}
				data, err := json.Marshal(change.Value)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s\n", color.CyanString(change.Key), data)
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	opts.bind(cmd)
	return cmd
}

// NewMemoryOnlyCommand creates the memory-only command.
func NewMemoryOnlyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:       "memory-only [enable|disable|status]",
		Short:     "Switch the report, policy and personal details keys to memory only",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"enable", "disable", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "status"
			if len(args) == 1 {
				action = args[0]
			}

			client, err := opts.dial(rootOpts)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := opts.withTimeout(cmd.Context())
			defer cancel()

			var enabled bool
			switch action {
			case "enable":
				enabled, err = client.SetMemoryOnly(ctx, true)
			case "disable":
				enabled, err = client.SetMemoryOnly(ctx, false)
			default:
				enabled, err = client.MemoryOnly(ctx)
			}
			if err != nil {
				return err
			}

			if enabled {
				fmt.Fprintf(cmd.OutOrStdout(), "memory only: %s\n", color.GreenString("on"))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "memory only: %s\n", color.YellowString("off"))
			}
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}

func printJSON(out io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
