package master

import (
	"context"
	"log/slog"

	"wall-controller/internal/channel"
	"wall-controller/internal/comm"
)

// Process runs the master role on the world group (forker traffic) and the
// main group (wall traffic).
type Process struct {
	Master *Master

	toWalls   *channel.MasterToWallChannel
	toForker  *channel.MasterToForkerChannel
	fromWalls *channel.MasterFromWallChannel
	log       *slog.Logger
}

// NewProcess wires a master to its channels. cfg.Walls is taken from the
// main group.
func NewProcess(world, main *comm.Communicator, cfg Config, log *slog.Logger) *Process {
	toWalls := channel.NewMasterToWallChannel(main, log)
	toForker := channel.NewMasterToForkerChannel(world, log)
	cfg.Walls = main.Size() - 1
	return &Process{
		Master:    New(cfg, toWalls, toForker, log),
		toWalls:   toWalls,
		toForker:  toForker,
		fromWalls: channel.NewMasterFromWallChannel(main, log),
		log:       log,
	}
}

// Run serves until ctx is done, then shuts the cluster down: quit to the
// forker, quit to the walls (flushed), and wait for every wall's quit.
func (p *Process) Run(ctx context.Context) error {
	inbound := make(chan error, 1)
	go func() { inbound <- p.fromWalls.Run(p.Master) }()

	reactorCtx, stopReactor := context.WithCancel(context.Background())
	reactor := make(chan error, 1)
	go func() { reactor <- p.Master.Run(reactorCtx) }()

	<-ctx.Done()
	p.log.Info("shutting down cluster")

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(p.toForker.SendQuit())
	keep(p.toWalls.SendQuit())
	keep(<-inbound)

	stopReactor()
	keep(<-reactor)
	p.log.Info("all walls stopped")
	return firstErr
}

// Abort stops the forker and the walls without starting the master. It is
// used when the startup version check fails.
func Abort(world, main *comm.Communicator, log *slog.Logger) error {
	forkerErr := channel.NewMasterToForkerChannel(world, log).SendQuit()
	wallsErr := channel.NewMasterToWallChannel(main, log).SendQuit()
	if forkerErr != nil {
		return forkerErr
	}
	return wallsErr
}
