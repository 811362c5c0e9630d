package core

import (
	"fmt"

	"CreditLedger/internal/event"
)

// maxCheckpointKeys caps how many recent dedup keys ride a checkpoint.
const maxCheckpointKeys = 100_000

// Checkpoint pins the pipeline's position without any domain state. The
// core is deterministic and every applied command is in the event log,
// so domain state is rebuilt by replaying the log; the checkpoint exists
// to verify the replayed hash chain and to expose the ordering state.
type Checkpoint struct {
	Sequence        int64
	Tick            int64
	StateHash       [32]byte
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// Checkpoint captures the current pipeline position.
func (c *Core) Checkpoint() Checkpoint {
	return Checkpoint{
		Sequence:        c.sequence,
		Tick:            c.tick,
		StateHash:       c.hasher.GetPrevHash(),
		SequenceState:   c.sequenceValidator.Export(),
		IdempotencyKeys: c.idempotency.RecentKeys(maxCheckpointKeys),
	}
}

// StateHash returns the hash chain tip: the state hash of the last
// applied command.
func (c *Core) StateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Replay re-applies a logged command during recovery. The log is the
// authority, so dedup and ordering validation are skipped; ordering
// state and the dedup LRU are rebuilt as a side effect. Nothing is
// emitted to the persistence or projection channels.
func (c *Core) Replay(cmd event.Command) error {
	if _, err := c.dispatch(cmd); err != nil {
		return fmt.Errorf("replay dispatch at sequence %d: %w", c.sequence, err)
	}
	c.tick = cmd.Tick()

	if err := c.postCheckInvariants(cmd); err != nil {
		return fmt.Errorf("replay invariants at sequence %d: %w", c.sequence, err)
	}

	c.hasher.ComputeHash(c.sequence, c.computeStateDigest())
	c.sequence++

	c.idempotency.MarkProcessed(cmd.CommandType().String(), cmd.IdempotencyKey())
	c.trackReplayOrdering(cmd)
	return nil
}

// trackReplayOrdering advances the sequence validator the same way live
// processing would, so ingestion resumes seamlessly after replay.
func (c *Core) trackReplayOrdering(cmd event.Command) {
	switch e := cmd.(type) {
	case *event.GaugeWeightUpdate:
		c.sequenceValidator.ValidateGaugeSequence(e.TermID, e.Seq)
	case *event.GaugeStakeUpdate:
		c.sequenceValidator.ValidateGaugeSequence("stake:"+e.TermID+":"+e.Staker, e.Seq)
	default:
		if isAdminKey(cmd.IdempotencyKey()) {
			c.sequenceValidator.ValidateAdminSequence(cmd.SourceSequence())
			return
		}
		c.sequenceValidator.SetExpectedSequence(c.getPartition(cmd), cmd.SourceSequence()+1)
	}
}
