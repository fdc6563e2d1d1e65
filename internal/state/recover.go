package state

import (
	"context"
	"time"

	"alats/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// RecoverResult is the outcome of a startup recovery.
type RecoverResult struct {
	// Checkpoint is the newest intact checkpoint; nil on a fresh start.
	Checkpoint *Checkpoint
	// Floor is the highest sequence found in the store, intact or not. New
	// commits continue above it.
	Floor uint64
	// Skipped lists sequences rejected by integrity checks, newest first.
	Skipped []uint64
}

// Recover loads the newest checkpoint that passes integrity checks. A corrupt
// checkpoint makes it fall back to the next older one, never forward.
func Recover(ctx context.Context, store Store) (RecoverResult, error) {
	var res RecoverResult
	var below uint64
	for {
		seq, payload, err := store.LoadLatestCheckpoint(ctx, below)
		if errors.Is(err, exception.ErrNoCheckpoint) {
			if len(res.Skipped) > 0 {
				logs.Warnf("state: no intact checkpoint, skipped %v", res.Skipped)
			}
			return res, nil
		}
		if err != nil && payload == nil && seq == 0 {
			return res, errors.Wrap(err, "recover checkpoint")
		}
		if seq > res.Floor {
			res.Floor = seq
		}

		if err == nil {
			cp, derr := Decode(payload)
			switch {
			case derr != nil:
				err = derr
			case cp.Seq != seq:
				err = exception.ErrSeqMismatch
			default:
				res.Checkpoint = &cp
				logs.Infof("state: recovered checkpoint %d from %s, %d open orders", cp.Seq, cp.CreatedAt.Format(time.RFC3339), len(cp.Orders))
				return res, nil
			}
		}

		logs.Warnf("state: checkpoint %d rejected, err: %+v", seq, err)
		res.Skipped = append(res.Skipped, seq)
		if seq == 0 {
			return res, nil
		}
		below = seq
	}
}
