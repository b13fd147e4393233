package main

import (
	"context"
	"sync"

	"wall-controller/internal/platform/config"
	"wall-controller/internal/platform/logger"
	"wall-controller/internal/transport"

	"github.com/spf13/cobra"
)

// localOptions holds the local command options.
type localOptions struct {
	Walls       int
	FPS         int
	ControlAddr string
	SessionDir  string
}

func newLocalCommand() *cobra.Command {
	opts := &localOptions{}

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Run a whole cluster in this process",
		Long:  `Run the master, the forker and the walls in one process over an in-memory mesh. Walls render headless side by side.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Walls, "walls", "w", 2, "Number of wall processes")
	cmd.Flags().IntVar(&opts.FPS, "fps", 0, "Frame rate (default $FPS or 60)")
	cmd.Flags().StringVar(&opts.ControlAddr, "listen", "", "Remote-control address (default :$PORT)")
	cmd.Flags().StringVar(&opts.SessionDir, "sessions", "", "Session directory (default $SESSION_DIR)")

	return cmd
}

func runLocal(ctx context.Context, opts *localOptions) error {
	c := config.LocalCluster(opts.Walls)
	if opts.FPS > 0 {
		c.FPS = opts.FPS
	}
	if opts.ControlAddr != "" {
		c.ControlAddr = opts.ControlAddr
	}
	if opts.SessionDir != "" {
		c.SessionDir = opts.SessionDir
	}
	if err := c.Validate(); err != nil {
		return err
	}
	log := logger.New(c.LogLevel, c.LogFormat)

	nodes, err := transport.NewLocalMesh(c.Size(), log)
	if err != nil {
		return err
	}
	defer func() {
		for _, n := range nodes {
			n.Close()
		}
	}()
	log.Info("local cluster starting", "walls", opts.Walls, "control_addr", c.ControlAddr)

	errs := make([]error, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		wg.Add(1)
		go func(i int, n *transport.Node) {
			defer wg.Done()
			errs[i] = runProcess(ctx, n, c, log)
		}(i, n)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			log.Error("process failed", "rank", i, "error", err)
			return err
		}
	}
	log.Info("local cluster stopped")
	return nil
}
