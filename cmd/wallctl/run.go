package main

import (
	"context"
	"net"

	"wall-controller/internal/platform/config"
	"wall-controller/internal/platform/logger"
	"wall-controller/internal/transport"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// runOptions holds the run command options.
type runOptions struct {
	Rank       int
	ConfigPath string
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one process of a cluster",
		Long: `Run the process of the given world rank. Every process of the cluster reads
the same cluster file; rank 0 is the master, rank 1 the forker and the
remaining ranks are walls.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Rank, "rank", "r", -1, "World rank of this process")
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Cluster file (default cluster.yaml)")
	_ = cmd.MarkFlagRequired("rank")

	return cmd
}

func runNode(ctx context.Context, opts *runOptions) error {
	c, err := config.LoadCluster(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Rank < 0 || opts.Rank >= c.Size() {
		return errors.Errorf("rank %d outside cluster of %d processes", opts.Rank, c.Size())
	}
	log := logger.New(c.LogLevel, c.LogFormat)

	ln, err := net.Listen("tcp", c.Processes[opts.Rank])
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	log.Info("joining cluster",
		"rank", opts.Rank,
		"processes", c.Size(),
		"listen", ln.Addr().String(),
	)

	node, err := transport.NewTCPNode(ctx, opts.Rank, ln, c.Processes, log)
	if err != nil {
		log.Error("cluster mesh failed", "error", err)
		return err
	}
	defer node.Close()

	return runProcess(ctx, node, c, log)
}
