// Package retention decides which snapshots are eligible for pruning.
package retention

import (
	"time"

	"github.com/netbak/confbak/store"
)

// Policy is the pruning rule set for one device history.
type Policy struct {
	RetentionDays    int // snapshots older than this become candidates
	MinKeep          int // device always retains at least this many snapshots
	MaxDeletesPerRun int // cap on deletions per evaluation, 0 = unlimited
}

// Decision lists the snapshots marked for deletion, oldest first.
type Decision struct {
	DevID  string
	Delete []int // sequence numbers
}

// Evaluate applies the policy to one device's full snapshot history, ordered
// by ascending sequence number. A snapshot is marked only if it is older
// than RetentionDays, is not the device's latest, and its removal leaves at
// least MinKeep snapshots. Marking is oldest first, so a deletion cap always
// prunes the oldest data. The decision never empties a device's history.
func Evaluate(history []store.Snapshot, now time.Time, policy Policy) Decision {

	var decision Decision
	if len(history) > 0 {
		decision.DevID = history[0].DevID
	}

	minKeep := policy.MinKeep
	if minKeep < 1 {
		minKeep = 1 // never recommend deleting all snapshots
	}

	cutoff := now.Add(-time.Duration(policy.RetentionDays) * 24 * time.Hour)

	remaining := len(history)

	for i, snap := range history {
		if remaining <= minKeep {
			break
		}
		if policy.MaxDeletesPerRun > 0 && len(decision.Delete) >= policy.MaxDeletesPerRun {
			break
		}
		if i == len(history)-1 {
			break // never the latest
		}
		if !snap.CapturedAt.Before(cutoff) {
			break // history is time-ordered, nothing newer is eligible
		}
		decision.Delete = append(decision.Delete, snap.Seq)
		remaining--
	}

	return decision
}
