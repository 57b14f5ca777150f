package indexer

import "fmt"

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// rangeCursor hands out consecutive batches lazily; a catch-up from genesis
// would otherwise materialize one BlockRange per batch up front.
type rangeCursor struct {
	next  uint64
	to    uint64
	batch uint64
	done  bool
}

func newRangeCursor(from, to, batchSize uint64) (*rangeCursor, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}
	return &rangeCursor{next: from, to: to, batch: batchSize}, nil
}

// Next returns the following batch, or false once to has been handed out.
func (c *rangeCursor) Next() (BlockRange, bool) {
	if c.done {
		return BlockRange{}, false
	}
	end := c.to
	if c.to-c.next >= c.batch {
		end = c.next + c.batch - 1
	}
	out := BlockRange{From: c.next, To: end}
	if end == c.to {
		c.done = true
	} else {
		c.next = end + 1
	}
	return out, true
}
