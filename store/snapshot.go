package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// ErrSnapshotNotFound reports a missing snapshot or an empty device history.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrPolicyViolation reports a deletion refused by the never-delete-last guard.
var ErrPolicyViolation = errors.New("refusing to delete the only remaining snapshot")

// Snapshot is an immutable capture of a device configuration.
type Snapshot struct {
	DevID      string
	Seq        int // per-device, monotonically increasing
	CapturedAt time.Time
	Hash       string // hex SHA-256 of Text
	Size       int64
	Text       []byte
}

// HashBytes computes the content hash used for snapshot comparison.
func HashBytes(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// SnapshotStore keeps one append-only snapshot history per device under a
// repository path. Puts for distinct devices run concurrently; puts for the
// same device are serialized to keep sequence numbers monotonic.
type SnapshotStore struct {
	repository      string
	logger          hasPrintf
	dedupUnchanged  bool
	neverDeleteLast bool
	maxLoadSize     int64

	mutex    sync.Mutex
	devLocks map[string]*sync.Mutex
}

// SnapshotStoreOptions configures a SnapshotStore.
type SnapshotStoreOptions struct {
	DedupUnchanged  bool  // drop captures identical to the previous snapshot
	NeverDeleteLast bool  // refuse to delete a device's only snapshot
	MaxLoadSize     int64 // per-snapshot load size cap
}

// NewSnapshotStore creates a snapshot store rooted at the repository path.
func NewSnapshotStore(repository string, logger hasPrintf, options SnapshotStoreOptions) *SnapshotStore {
	if logger == nil {
		panic("NewSnapshotStore: nil logger")
	}
	maxLoad := options.MaxLoadSize
	if maxLoad < 1 {
		maxLoad = maxEntryCompareSize
	}
	return &SnapshotStore{
		repository:      repository,
		logger:          logger,
		dedupUnchanged:  options.DedupUnchanged,
		neverDeleteLast: options.NeverDeleteLast,
		maxLoadSize:     maxLoad,
		devLocks:        map[string]*sync.Mutex{},
	}
}

func (s *SnapshotStore) deviceLock(devID string) *sync.Mutex {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	l, found := s.devLocks[devID]
	if !found {
		l = &sync.Mutex{}
		s.devLocks[devID] = l
	}
	return l
}

// DeviceDir is the per-device history directory.
func (s *SnapshotStore) DeviceDir(devID string) string {
	return filepath.Join(s.repository, devID)
}

// DevicePathPrefix is the per-device snapshot entry prefix.
func (s *SnapshotStore) DevicePathPrefix(devID string) string {
	return filepath.Join(s.DeviceDir(devID), devID) + "."
}

func (s *SnapshotStore) snapshotPath(devID string, seq int) string {
	return s.DevicePathPrefix(devID) + strconv.Itoa(seq)
}

func (s *SnapshotStore) loadSnapshot(devID, path string) (Snapshot, error) {

	seq, seqErr := ExtractSeq(path)
	if seqErr != nil {
		return Snapshot{}, fmt.Errorf("loadSnapshot: %v", seqErr)
	}

	text, readErr := FileRead(path, s.maxLoadSize)
	if readErr != nil {
		return Snapshot{}, fmt.Errorf("loadSnapshot: read: '%s': %v", path, readErr)
	}

	mod, size, infoErr := FileInfo(path)
	if infoErr != nil {
		return Snapshot{}, fmt.Errorf("loadSnapshot: info: '%s': %v", path, infoErr)
	}

	return Snapshot{
		DevID:      devID,
		Seq:        seq,
		CapturedAt: mod,
		Hash:       HashBytes(text),
		Size:       size,
		Text:       text,
	}, nil
}

// Put commits a new snapshot for the device, assigning the next sequence
// number. The snapshot is staged to a tmp file and renamed into place, so a
// crashed put leaves no observable entry. With DedupUnchanged, a capture
// identical to the device's previous snapshot returns the existing snapshot
// without committing a new entry.
func (s *SnapshotStore) Put(devID string, text []byte, capturedAt time.Time) (Snapshot, error) {

	lock := s.deviceLock(devID)
	lock.Lock()
	defer lock.Unlock()

	devDir := s.DeviceDir(devID)
	if mkdirErr := MkDir(devDir); mkdirErr != nil {
		return Snapshot{}, fmt.Errorf("Put: mkdir: '%s': %v", devDir, mkdirErr)
	}

	prefix := s.DevicePathPrefix(devID)

	writeFunc := func(w HasWrite) error {
		n, writeErr := w.Write(text)
		if writeErr != nil {
			return writeErr
		}
		if n != len(text) {
			return fmt.Errorf("partial write: wrote=%d size=%d", n, len(text))
		}
		return nil
	}

	previous, _ := FindLatest(prefix, s.logger)

	// retention owns pruning, maxFiles=0 disables the store-level erase
	path, saveErr := SaveNewEntry(prefix, 0, s.logger, writeFunc, s.dedupUnchanged)
	if saveErr != nil {
		return Snapshot{}, fmt.Errorf("Put: dev '%s': %v", devID, saveErr)
	}

	if path != previous {
		// new entry committed: stamp the capture time
		if timeErr := fileSetModTime(path, capturedAt); timeErr != nil {
			s.logger.Printf("Put: dev '%s': set capture time: '%s': %v", devID, path, timeErr)
		}
	}

	snap, loadErr := s.loadSnapshot(devID, path)
	if loadErr != nil {
		return Snapshot{}, fmt.Errorf("Put: dev '%s': %v", devID, loadErr)
	}

	return snap, nil
}

// Get retrieves one snapshot by sequence number.
func (s *SnapshotStore) Get(devID string, seq int) (Snapshot, error) {

	path := s.snapshotPath(devID, seq)
	if !fileExists(path) {
		return Snapshot{}, fmt.Errorf("Get: dev '%s' seq %d: %w", devID, seq, ErrSnapshotNotFound)
	}

	return s.loadSnapshot(devID, path)
}

// Latest retrieves the device's most recent snapshot.
func (s *SnapshotStore) Latest(devID string) (Snapshot, error) {

	path, findErr := FindLatest(s.DevicePathPrefix(devID), s.logger)
	if findErr != nil {
		return Snapshot{}, fmt.Errorf("Latest: dev '%s': %w", devID, ErrSnapshotNotFound)
	}

	return s.loadSnapshot(devID, path)
}

// List returns the device's snapshots ordered by ascending sequence number.
// Non-zero bounds filter by capture time: from is inclusive, to exclusive.
func (s *SnapshotStore) List(devID string, from, to time.Time) ([]Snapshot, error) {

	dirname, matches, listErr := ListEntriesSorted(s.DevicePathPrefix(devID), false, s.logger)
	if listErr != nil {
		return nil, nil // no history yet
	}

	var history []Snapshot
	for _, m := range matches {
		snap, loadErr := s.loadSnapshot(devID, filepath.Join(dirname, m))
		if loadErr != nil {
			return nil, fmt.Errorf("List: dev '%s': %v", devID, loadErr)
		}
		if !from.IsZero() && snap.CapturedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !snap.CapturedAt.Before(to) {
			continue
		}
		history = append(history, snap)
	}

	return history, nil
}

// Delete permanently removes one snapshot. With NeverDeleteLast, deleting a
// device's only remaining snapshot fails with ErrPolicyViolation.
func (s *SnapshotStore) Delete(devID string, seq int) error {

	lock := s.deviceLock(devID)
	lock.Lock()
	defer lock.Unlock()

	path := s.snapshotPath(devID, seq)
	if !fileExists(path) {
		return fmt.Errorf("Delete: dev '%s' seq %d: %w", devID, seq, ErrSnapshotNotFound)
	}

	prefix := s.DevicePathPrefix(devID)

	_, matches, listErr := ListEntriesSorted(prefix, false, s.logger)
	if listErr != nil {
		return fmt.Errorf("Delete: dev '%s': %v", devID, listErr)
	}

	if s.neverDeleteLast && len(matches) <= 1 {
		return fmt.Errorf("Delete: dev '%s' seq %d: %w", devID, seq, ErrPolicyViolation)
	}

	if removeErr := fileRemove(path); removeErr != nil {
		return fmt.Errorf("Delete: dev '%s' seq %d: %v", devID, seq, removeErr)
	}

	// the latest shortcut is kept as a sequence high-water mark:
	// deleting the newest snapshot must not cause sequence reuse

	return nil
}
