package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"wall-controller/internal/channel"
	"wall-controller/internal/comm"
	"wall-controller/internal/control"
	"wall-controller/internal/forker"
	"wall-controller/internal/master"
	"wall-controller/internal/platform/config"
	"wall-controller/internal/platform/logger"
	"wall-controller/internal/platform/metrics"
	"wall-controller/internal/scene"
	"wall-controller/internal/session"
	"wall-controller/internal/transport"
	"wall-controller/internal/wall"

	"github.com/pkg/errors"
)

const shutdownTimeout = 10 * time.Second

var errVersionMismatch = errors.New("processes run different protocol versions")

// groups are the communicators a process takes part in. Main is nil on the
// forker and Walls is nil outside the walls.
type groups struct {
	World *comm.Communicator
	Main  *comm.Communicator
	Walls *comm.Communicator
}

func joinGroups(ctx context.Context, node *transport.Node, log *slog.Logger) (*groups, error) {
	world, err := comm.World(ctx, node, log)
	if err != nil {
		return nil, errors.Wrap(err, "join world")
	}
	g := &groups{World: world}

	rank := node.Rank()
	mainRanks := []int{config.MasterRank}
	var wallRanks []int
	for r := config.FirstWallRank; r < node.Size(); r++ {
		mainRanks = append(mainRanks, r)
		wallRanks = append(wallRanks, r)
	}

	if rank != config.ForkerRank {
		if g.Main, err = world.Sub(ctx, "main", mainRanks); err != nil {
			world.Close()
			return nil, errors.Wrap(err, "join main group")
		}
	}
	if rank >= config.FirstWallRank {
		if g.Walls, err = world.Sub(ctx, "walls", wallRanks); err != nil {
			world.Close()
			return nil, errors.Wrap(err, "join wall group")
		}
	}
	return g, nil
}

// runProcess runs the role of node's rank until the cluster shuts down.
// Only the master watches ctx; the other roles stop when the master tells
// them to.
func runProcess(ctx context.Context, node *transport.Node, c *config.Cluster, log *slog.Logger) error {
	return runRole(ctx, node, c, channel.ProtocolVersion, log)
}

// runRole is runProcess for a process speaking the given protocol version.
// When any process disagrees, the master stops the others and every
// process returns errVersionMismatch.
func runRole(ctx context.Context, node *transport.Node, c *config.Cluster, version int, log *slog.Logger) error {
	rank := node.Rank()
	log = logger.ForProcess(log, rank, c.Role(rank))

	g, err := joinGroups(ctx, node, log)
	if err != nil {
		log.Error("cluster join failed", "error", err)
		return err
	}
	defer g.World.Close()

	same, err := channel.CheckVersion(g.World, version)
	if err != nil {
		return errors.Wrap(err, "version check")
	}
	if !same {
		log.Error("protocol version mismatch", slog.Int("version", version))
	}

	switch {
	case rank == config.MasterRank:
		if !same {
			if err := master.Abort(g.World, g.Main, log); err != nil {
				log.Error("abort failed", "error", err)
			}
			return errVersionMismatch
		}
		return runMaster(ctx, g, c, log)

	case rank == config.ForkerRank:
		if err := forker.New(g.World, log).Run(); err != nil {
			return err
		}

	default:
		if !same {
			if err := wall.Drain(g.Main, log); err != nil {
				log.Error("drain failed", "error", err)
			}
			return errVersionMismatch
		}
		if err := runWall(g, c, rank, log); err != nil {
			return err
		}
	}

	if !same {
		return errVersionMismatch
	}
	return nil
}

func runMaster(ctx context.Context, g *groups, c *config.Cluster, log *slog.Logger) error {
	met := metrics.New()
	proc := master.NewProcess(g.World, g.Main, master.Config{
		Surfaces: surfaces(c),
		Sessions: session.NewStore(c.SessionDir, log),
		Metrics:  met,
	}, log)

	h := control.NewHandler(proc.Master, log)
	srv := &http.Server{Addr: c.ControlAddr, Handler: control.NewRouter(h, log, met)}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()
	log.Info("master starting",
		"control_addr", c.ControlAddr,
		"walls", c.WallCount(),
		"surfaces", len(c.Surfaces),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err, ok := <-serveErr; ok && err != nil {
			log.Error("control server error", "error", err)
			cancel()
		}
	}()

	runErr := proc.Run(runCtx)

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("master stopped")
	return runErr
}

func runWall(g *groups, c *config.Cluster, rank int, log *slog.Logger) error {
	index := rank - config.FirstWallRank
	w := c.Walls[index]
	return wall.New(g.Main, g.Walls, wall.Config{
		Index: index,
		Screen: wall.Screen{
			Surface: w.Surface,
			Rect:    scene.Rect{X: w.X, Y: w.Y, W: w.Width, H: w.Height},
		},
		Surfaces: surfaces(c),
		FPS:      c.FPS,
	}, log).Run()
}

func surfaces(c *config.Cluster) []scene.Size {
	out := make([]scene.Size, len(c.Surfaces))
	for i, s := range c.Surfaces {
		out[i] = scene.Size{W: s.Width, H: s.Height}
	}
	return out
}
