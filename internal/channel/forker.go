package channel

import (
	"log/slog"

	"wall-controller/internal/codec"
	"wall-controller/internal/comm"
	"wall-controller/internal/message"
	"wall-controller/internal/state"

	"github.com/pkg/errors"
)

// ForkerFromMasterChannel is the forker's inbound loop on the world group.
type ForkerFromMasterChannel struct {
	comm *comm.Communicator
	log  *slog.Logger
}

func NewForkerFromMasterChannel(world *comm.Communicator, log *slog.Logger) *ForkerFromMasterChannel {
	return &ForkerFromMasterChannel{comm: world, log: log}
}

// Run calls start for every launch request until the master sends quit.
// A failed launch is logged and does not stop the loop.
func (ch *ForkerFromMasterChannel) Run(start func(state.ProcessSpec) error) error {
	for {
		hdr := ch.comm.Probe(0, message.Any)
		if !hdr.Valid() {
			return errors.Wrap(comm.ErrClosed, "forker inbound")
		}
		payload, err := receive(ch.comm, hdr)
		if err != nil {
			return err
		}
		switch hdr.Type {
		case message.Quit:
			return nil
		case message.StartProcess:
			var spec state.ProcessSpec
			if err := codec.Unmarshal(payload, &spec); err != nil {
				ch.log.Warn("bad process request", "error", err)
				continue
			}
			if err := start(spec); err != nil {
				ch.log.Error("process launch failed", slog.String("command", spec.Command), "error", err)
			}
		default:
			ch.log.Warn("unexpected message for forker", slog.String("type", hdr.Type.String()))
		}
	}
}
