package comm

import (
	"wall-controller/internal/codec"
	"wall-controller/internal/message"

	"github.com/pkg/errors"
)

// allGather returns every member's payload in rank order. Rank 0 collects
// the contributions and releases the assembled result to the others, so no
// member returns before all have entered.
func (c *Communicator) allGather(payload []byte) ([][]byte, error) {
	out := make([][]byte, c.Size())
	if c.rank != 0 {
		if err := c.links[0].write(frame{kind: kindCollective, typ: message.None, payload: payload}); err != nil {
			return nil, errors.Wrap(err, "collective contribution")
		}
		env, err := c.in.next(kindCollective, 0, -1)
		if err != nil {
			return nil, errors.Wrap(err, "collective result")
		}
		if err := codec.Unmarshal(env.payload, &out); err != nil {
			return nil, err
		}
		if len(out) != c.Size() {
			return nil, errors.Errorf("collective result has %d entries, want %d", len(out), c.Size())
		}
		return out, nil
	}

	out[0] = payload
	for r := 1; r < c.Size(); r++ {
		env, err := c.in.next(kindCollective, r, -1)
		if err != nil {
			return nil, errors.Wrapf(err, "collective contribution from rank %d", r)
		}
		out[r] = env.payload
	}
	packed, err := codec.Marshal(out)
	if err != nil {
		return nil, err
	}
	for _, l := range c.links[1:] {
		if err := l.write(frame{kind: kindCollective, typ: message.None, payload: packed}); err != nil {
			return nil, errors.Wrapf(err, "collective result to rank %d", l.peer)
		}
	}
	return out, nil
}

// Barrier returns once every member has entered it.
func (c *Communicator) Barrier() error {
	_, err := c.allGather(nil)
	return err
}

// GatherAll returns every member's value in rank order.
func (c *Communicator) GatherAll(v int) ([]int, error) {
	parts, err := c.allGather(codec.PutInt(v))
	if err != nil {
		return nil, err
	}
	values := make([]int, len(parts))
	for i, p := range parts {
		if values[i], err = codec.Int(p); err != nil {
			return nil, errors.Wrapf(err, "value from rank %d", i)
		}
	}
	return values, nil
}

// GlobalSum returns the sum of v over every member.
func (c *Communicator) GlobalSum(v int) (int, error) {
	values, err := c.GatherAll(v)
	if err != nil {
		return 0, err
	}
	sum := 0
	for _, x := range values {
		sum += x
	}
	return sum, nil
}
