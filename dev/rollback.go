package dev

import (
	"context"
	"fmt"
	"time"

	"github.com/netbak/confbak/store"
)

// ApplyFunc pushes configuration text to one device.
type ApplyFunc func(ctx context.Context, d *Device, config []byte) error

// Rollback statuses.
const (
	RollbackApplied    = 0 // configuration applied and verified (or verification disabled)
	RollbackNoop       = 1 // device already at the target snapshot
	RollbackUnverified = 2 // apply reported success but the post-state differs from the target
)

// RollbackResult reports one rollback attempt.
type RollbackResult struct {
	DevID     string
	TargetSeq int
	Status    int
	PreSeq    int // audit snapshot committed before apply, 0 if none
	PostSeq   int // verification snapshot committed after apply, 0 if none
}

// Rollback re-applies a stored snapshot to the device.
//
// When capture is non-nil, the device's current state is captured and
// persisted BEFORE apply is invoked, so a failure mid-apply still leaves an
// audit trail of the attempted transition; after a successful apply the
// state is captured again and its hash compared against the target, a
// mismatch flags the rollback Unverified (the device silently rejected or
// partially applied the configuration).
//
// Rolling back to a target equal to the device's latest snapshot is a no-op
// that still succeeds.
func Rollback(ctx context.Context, d *Device, targetSeq int, snaps *store.SnapshotStore, capture CaptureFunc, apply ApplyFunc, logger hasPrintf) (RollbackResult, error) {

	result := RollbackResult{DevID: d.ID, TargetSeq: targetSeq}

	target, getErr := snaps.Get(d.ID, targetSeq)
	if getErr != nil {
		return result, fmt.Errorf("Rollback: dev '%s' seq %d: %w", d.ID, targetSeq, getErr)
	}

	if latest, latestErr := snaps.Latest(d.ID); latestErr == nil {
		if latest.Seq == target.Seq || latest.Hash == target.Hash {
			logger.Printf("Rollback: dev '%s' already at target seq %d, nothing to apply", d.ID, targetSeq)
			result.Status = RollbackNoop
			return result, nil
		}
	}

	if capture != nil {
		pre, preErr := captureSnapshot(ctx, d, snaps, capture)
		if preErr != nil {
			return result, fmt.Errorf("Rollback: dev '%s': pre-rollback capture: %v", d.ID, preErr)
		}
		result.PreSeq = pre.Seq
		logger.Printf("Rollback: dev '%s' pre-rollback state saved as seq %d", d.ID, pre.Seq)

		if pre.Hash == target.Hash {
			// running state already matches the target
			result.Status = RollbackNoop
			return result, nil
		}
	}

	if applyErr := apply(ctx, d, target.Text); applyErr != nil {
		// the pre-rollback snapshot survives, the prior state stays recoverable
		return result, fmt.Errorf("Rollback: dev '%s' seq %d: apply: %v", d.ID, targetSeq, applyErr)
	}

	logger.Printf("Rollback: dev '%s' applied snapshot seq %d", d.ID, targetSeq)

	if capture != nil {
		post, postErr := captureSnapshot(ctx, d, snaps, capture)
		if postErr != nil {
			result.Status = RollbackUnverified
			logger.Printf("Rollback: dev '%s': post-rollback capture failed, rollback unverified: %v", d.ID, postErr)
			return result, nil
		}
		result.PostSeq = post.Seq

		if post.Hash != target.Hash {
			result.Status = RollbackUnverified
			logger.Printf("Rollback: dev '%s': post-rollback state differs from target seq %d, rollback unverified", d.ID, targetSeq)
			return result, nil
		}
	}

	result.Status = RollbackApplied
	return result, nil
}

func captureSnapshot(ctx context.Context, d *Device, snaps *store.SnapshotStore, capture CaptureFunc) (store.Snapshot, error) {
	text, captureErr := capture(ctx, d)
	if captureErr != nil {
		return store.Snapshot{}, captureErr
	}
	return snaps.Put(d.ID, text, time.Now())
}
