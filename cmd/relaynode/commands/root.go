// Package commands is the node's CLI surface: one cobra root command
// that starts the relay and binds its listener.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relaynet/internal/pprofutil"
	"relaynet/internal/relay"
	"relaynet/internal/relaykeys"
)

var (
	port         int
	connectAddr  string
	metricsPath  string
	dialInsecure bool
)

// Execute builds and runs the root command against os.Args.
func Execute() error {
	root := &cobra.Command{
		Use:   "relaynode",
		Short: "Federated end-to-end message relay node",
		RunE:  runNode,
	}

	root.Flags().IntVar(&port, "port", envPortDefault(8080), "listening port (env PORT)")
	root.Flags().StringVar(&connectAddr, "connect", "", "seed peer address to dial on startup")
	root.Flags().StringVar(&metricsPath, "metrics-file", "", "optional path to write a periodic JSON metrics snapshot")
	root.Flags().BoolVar(&dialInsecure, "dial-insecure", true, "skip certificate verification when dialing peers (dev default)")

	return root.Execute()
}

func envPortDefault(fallback int) int {
	v := os.Getenv("PORT")
	if v == "" {
		return fallback
	}
	var parsed int
	if _, err := fmt.Sscanf(v, "%d", &parsed); err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func runNode(cmd *cobra.Command, args []string) error {
	if err := pprofutil.StartFromEnv(cmd.ErrOrStderr()); err != nil {
		return fmt.Errorf("pprof: %w", err)
	}

	identity, err := relaykeys.Generate()
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}

	node, err := relay.New(relay.Options{
		ListenAddr:   fmt.Sprintf(":%d", port),
		Identity:     identity,
		MetricsPath:  metricsPath,
		DialInsecure: dialInsecure,
	})
	if err != nil {
		return err
	}
	defer node.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "relaynode listening on %s, identity %s\n", node.ListenAddr(), relaykeys.Hex(identity.Public))

	if connectAddr != "" {
		go func() {
			if err := node.DialPeer(context.Background(), connectAddr); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "seed dial to %s failed: %v\n", connectAddr, err)
			}
		}()
	}

	if metricsPath != "" {
		go writeMetricsPeriodically(node, metricsPath)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = node.Serve(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func writeMetricsPeriodically(node *relay.Node, path string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		_ = node.Metrics().WriteSnapshot(path)
	}
}
