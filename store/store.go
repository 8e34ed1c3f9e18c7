// Package store persists versioned files and device configuration snapshots.
package store

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/udhos/equalfile"
)

type hasPrintf interface {
	Printf(fmt string, v ...interface{})
}

// HasWrite is a writer interface for SaveNewEntry write callbacks.
type HasWrite interface {
	Write(p []byte) (int, error)
}

// Init initializes the store layer. The region is used for S3-backed paths.
func Init(logger hasPrintf, region string) {
	if logger == nil {
		panic("store.Init: nil logger")
	}
	s3init(logger, region)
}

// ExtractSeq parses the sequence number trailing an entry filename.
func ExtractSeq(filename string) (int, error) {
	lastDot := strings.LastIndexByte(filename, '.')
	seqSuffix := filename[lastDot+1:]
	seq, err := strconv.Atoi(seqSuffix)
	if err != nil {
		return -1, fmt.Errorf("ExtractSeq: error parsing filename [%s]: %v", filename, err)
	}

	return seq, nil
}

type sortBySeq struct {
	data   []string
	logger hasPrintf
}

func (s sortBySeq) Len() int {
	return len(s.data)
}
func (s sortBySeq) Swap(i, j int) {
	s.data[i], s.data[j] = s.data[j], s.data[i]
}
func (s sortBySeq) Less(i, j int) bool {
	s1 := s.data[i]
	seq1, err1 := ExtractSeq(s1)
	if err1 != nil {
		s.logger.Printf("sortBySeq.Less: error parsing entry path: '%s': %v", s1, err1)
	}
	s2 := s.data[j]
	seq2, err2 := ExtractSeq(s2)
	if err2 != nil {
		s.logger.Printf("sortBySeq.Less: error parsing entry path: '%s': %v", s2, err2)
	}
	return seq1 < seq2
}

func latestShortcutPath(pathPrefix string) string {
	return pathPrefix + "latest"
}

func entryPath(pathPrefix, seq string) string {
	return pathPrefix + seq
}

func fileFirstLine(path string) (string, error) {

	if S3Path(path) {
		return s3fileFirstLine(path)
	}

	f, openErr := os.Open(path)
	if openErr != nil {
		return "", openErr
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, _, readErr := r.ReadLine()

	return string(line), readErr
}

// tryShortcut resolves the latest entry from the shortcut file, if possible.
func tryShortcut(pathPrefix string) string {

	shortcut := latestShortcutPath(pathPrefix)
	seq, err := fileFirstLine(shortcut)
	if err != nil {
		return "" // not found
	}

	path := entryPath(pathPrefix, seq)
	if fileExists(path) {
		return path // found
	}

	return "" // not found
}

// FindLatest locates the highest-sequence entry under the path prefix.
func FindLatest(pathPrefix string, logger hasPrintf) (string, error) {

	if path := tryShortcut(pathPrefix); path != "" {
		return path, nil // found
	}

	// shortcut missed, search the directory

	dirname, matches, err := ListEntries(pathPrefix, logger)
	if err != nil {
		return "", err
	}

	if len(matches) < 1 {
		return "", fmt.Errorf("FindLatest: no entry found for prefix: %s", pathPrefix)
	}

	maxSeq := -1
	last := ""
	for _, m := range matches {
		seq, seqErr := ExtractSeq(m)
		if seqErr != nil {
			return "", fmt.Errorf("FindLatest: bad sequence number: %s: %v", m, seqErr)
		}
		if seq >= maxSeq {
			maxSeq = seq
			last = m
		}
	}

	return filepath.Join(dirname, last), nil
}

// ListEntries lists entry filenames under the path prefix, in directory order.
func ListEntries(pathPrefix string, logger hasPrintf) (string, []string, error) {

	dirname, names, dirErr := dirList(pathPrefix)
	if dirErr != nil {
		return dirname, nil, dirErr
	}

	basename := filepath.Base(pathPrefix)

	// keep only prefix-matched names ending in a sequence number
	matches := names[:0] // filter in place
	for _, x := range names {
		lastByte := rune(x[len(x)-1])
		if unicode.IsDigit(lastByte) && strings.HasPrefix(x, basename) {
			matches = append(matches, x)
		}
	}

	return dirname, matches, nil
}

// ListEntriesSorted lists entry filenames under the path prefix, ordered by
// sequence number.
func ListEntriesSorted(pathPrefix string, reverse bool, logger hasPrintf) (string, []string, error) {

	dirname, matches, err := ListEntries(pathPrefix, logger)
	if err != nil {
		return dirname, matches, err
	}

	if reverse {
		sort.Sort(sort.Reverse(sortBySeq{data: matches, logger: logger}))
	} else {
		sort.Sort(sortBySeq{data: matches, logger: logger})
	}

	return dirname, matches, nil
}

func dirList(path string) (string, []string, error) {

	if S3Path(path) {
		return s3dirList(path)
	}

	dirname := filepath.Dir(path)

	dir, err := os.Open(dirname)
	if err != nil {
		return dirname, nil, fmt.Errorf("dirList: error opening dir '%s': %v", dirname, err)
	}

	defer dir.Close()

	names, err2 := dir.Readdirnames(0)
	if err2 != nil {
		return dirname, nil, fmt.Errorf("dirList: error reading dir '%s': %v", dirname, err2)
	}

	return dirname, names, nil
}

func fileExists(path string) bool {

	if S3Path(path) {
		return s3fileExists(path)
	}

	if _, err := os.Stat(path); err == nil {
		return true
	}

	return false
}

func fileRemove(path string) error {

	if S3Path(path) {
		return s3fileRemove(path)
	}

	return os.Remove(path)
}

func fileRename(p1, p2 string) error {

	if S3Path(p1) {
		return s3fileRename(p1, p2)
	}

	return os.Rename(p1, p2)
}

func fileSetModTime(path string, t time.Time) error {

	if S3Path(path) {
		return nil // S3 object timestamps are not settable
	}

	return os.Chtimes(path, t, t)
}

// FileRead loads a file, up to maxSize bytes.
func FileRead(path string, maxSize int64) ([]byte, error) {

	if S3Path(path) {
		return s3fileRead(path, maxSize)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return nil, statErr
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("FileRead: file too big: '%s': size=%d max=%d", path, info.Size(), maxSize)
	}

	return os.ReadFile(path)
}

// FileInfo reports modification time and size for a file.
func FileInfo(path string) (time.Time, int64, error) {

	if S3Path(path) {
		return s3fileInfo(path)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return time.Time{}, 0, statErr
	}

	return info.ModTime(), info.Size(), nil
}

func fileCompare(p1, p2 string, maxSize int64) (bool, error) {

	if S3Path(p1) || S3Path(p2) {
		b1, err1 := FileRead(p1, maxSize)
		if err1 != nil {
			return false, err1
		}
		b2, err2 := FileRead(p2, maxSize)
		if err2 != nil {
			return false, err2
		}
		return bytes.Equal(b1, b2), nil
	}

	return equalfile.New(nil, equalfile.Options{MaxSize: maxSize}).CompareFile(p1, p2)
}

func writeFileBuf(path string, buf []byte) error {

	if S3Path(path) {
		return s3fileput(path, buf)
	}

	return os.WriteFile(path, buf, 0640)
}

func writeFile(path string, writeFunc func(HasWrite) error) error {

	if S3Path(path) {
		w := &bytes.Buffer{}

		if err := writeFunc(w); err != nil {
			return fmt.Errorf("writeFile: writeFunc error: [%s]: %v", path, err)
		}

		return s3fileput(path, w.Bytes())
	}

	f, createErr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if createErr != nil {
		return fmt.Errorf("writeFile: error creating file: [%s]: %v", path, createErr)
	}

	w := bufio.NewWriter(f)

	if err := writeFunc(w); err != nil {
		f.Close()
		return fmt.Errorf("writeFile: writeFunc error: [%s]: %v", path, err)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writeFile: error flushing file: [%s]: %v", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("writeFile: error closing file: [%s]: %v", path, err)
	}

	return nil
}

// SaveNewEntry commits a new versioned entry under the path prefix. The entry
// is staged to a tmp file then renamed, so a partial write is never visible
// as a committed entry. With changesOnly, a new entry identical to the
// previous one is discarded and the previous entry path is returned. When
// maxFiles > 0, oldest entries beyond maxFiles are erased after the commit.
func SaveNewEntry(pathPrefix string, maxFiles int, logger hasPrintf, writeFunc func(HasWrite) error, changesOnly bool) (string, error) {

	// stage to tmp file

	tmpPath := entryPath(pathPrefix, "tmp")
	if fileExists(tmpPath) {
		logger.Printf("SaveNewEntry: removing stale tmp file: [%s]", tmpPath)
		if err := fileRemove(tmpPath); err != nil {
			return "", fmt.Errorf("SaveNewEntry: stale tmp file: [%s]: %v", tmpPath, err)
		}
	}

	if creatErr := writeFile(tmpPath, writeFunc); creatErr != nil {
		return "", fmt.Errorf("SaveNewEntry: error creating tmp file: [%s]: %v", tmpPath, creatErr)
	}

	defer fileRemove(tmpPath)

	// find previous entry

	seq := lastSeq(pathPrefix, logger)
	previous, findErr := FindLatest(pathPrefix, logger)
	previousFound := findErr == nil

	if changesOnly && previousFound {
		equal, equalErr := fileCompare(previous, tmpPath, maxEntryCompareSize)
		if equalErr == nil {
			if equal {
				logger.Printf("SaveNewEntry: refusing to commit identical new entry: [%s]", tmpPath)
				return previous, nil // success
			}
		} else {
			// unable to compare, fall through and commit
			logger.Printf("SaveNewEntry: error comparing previous=[%s] to new=[%s]: %v", previous, tmpPath, equalErr)
		}
	}

	// commit new entry

	newSeq := seq + 1
	newPath := entryPath(pathPrefix, strconv.Itoa(newSeq))

	if fileExists(newPath) {
		return "", fmt.Errorf("SaveNewEntry: new entry exists: [%s]", newPath)
	}

	if renameErr := fileRename(tmpPath, newPath); renameErr != nil {
		return "", fmt.Errorf("SaveNewEntry: could not rename '%s' to '%s': %v", tmpPath, newPath, renameErr)
	}

	updateLatestShortcut(pathPrefix, newSeq, logger)

	eraseOldEntries(pathPrefix, maxFiles, logger)

	return newPath, nil
}

const maxEntryCompareSize = 10000000 // 10M

// lastSeq reports the highest sequence number ever committed under the path
// prefix. The shortcut file is trusted as a high-water mark even when its
// entry has been deleted, so sequence numbers are never reused.
func lastSeq(pathPrefix string, logger hasPrintf) int {

	max := 0

	if line, err := fileFirstLine(latestShortcutPath(pathPrefix)); err == nil {
		if seq, seqErr := strconv.Atoi(strings.TrimSpace(line)); seqErr == nil && seq > max {
			max = seq
		}
	}

	_, matches, listErr := ListEntries(pathPrefix, logger)
	if listErr != nil {
		return max
	}

	for _, m := range matches {
		seq, seqErr := ExtractSeq(m)
		if seqErr != nil {
			continue
		}
		if seq > max {
			max = seq
		}
	}

	return max
}

func updateLatestShortcut(pathPrefix string, seq int, logger hasPrintf) {
	shortcut := latestShortcutPath(pathPrefix)
	if err := writeFileBuf(shortcut, []byte(strconv.Itoa(seq))); err != nil {
		logger.Printf("updateLatestShortcut: error writing shortcut '%s': %v", shortcut, err)

		// a stale shortcut could point at an older entry,
		// safer to remove it and fall back to directory search
		fileRemove(shortcut)
	}
}

func eraseOldEntries(pathPrefix string, maxFiles int, logger hasPrintf) {

	if maxFiles < 1 {
		return
	}

	dirname, matches, err := ListEntriesSorted(pathPrefix, false, logger)
	if err != nil {
		logger.Printf("eraseOldEntries: %v", err)
		return
	}

	toDelete := len(matches) - maxFiles
	if toDelete < 1 {
		return
	}

	for i := 0; i < toDelete; i++ {
		path := filepath.Join(dirname, matches[i])
		logger.Printf("eraseOldEntries: delete: [%s]", path)
		if err := fileRemove(path); err != nil {
			logger.Printf("eraseOldEntries: delete: error: [%s]: %v", path, err)
		}
	}
}

// MkDir creates a directory path, if the backend needs one.
func MkDir(path string) error {

	if S3Path(path) {
		return nil // no directories on S3
	}

	return os.MkdirAll(path, 0750)
}
