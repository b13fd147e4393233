// Package forker launches detached processes on behalf of the master. It
// runs as world rank 1 so that process creation never happens inside a
// rendering or communicating process.
package forker

import (
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"wall-controller/internal/channel"
	"wall-controller/internal/comm"
	"wall-controller/internal/state"

	"github.com/pkg/errors"
)

// Forker starts processes requested by the master.
type Forker struct {
	world   *comm.Communicator
	log     *slog.Logger
	started func(pid int)
}

// New returns a forker reading from the world group.
func New(world *comm.Communicator, log *slog.Logger) *Forker {
	return &Forker{world: world, log: log}
}

// Run launches processes until the master sends quit.
func (f *Forker) Run() error {
	f.log.Info("forker started")
	err := channel.NewForkerFromMasterChannel(f.world, f.log).Run(f.Start)
	if err != nil {
		return errors.Wrap(err, "forker")
	}
	f.log.Info("forker stopped")
	return nil
}

// Start launches spec in its own process group and does not wait for it.
// The child is reaped in the background.
func (f *Forker) Start(spec state.ProcessSpec) error {
	if spec.Command == "" {
		return errors.New("empty command")
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %s", spec.Command)
	}

	pid := cmd.Process.Pid
	f.log.Info("process started", slog.String("command", spec.Command), slog.Int("pid", pid))
	if f.started != nil {
		f.started(pid)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			f.log.Debug("process exited", slog.Int("pid", pid), "error", err)
			return
		}
		f.log.Debug("process exited", slog.Int("pid", pid))
	}()
	return nil
}
