// Package journal owns the on-disk state of dialogs: an append-only
// per-round JSONL event log plus the side files (meta, reminders,
// pending summaries, subdialog registry) stored per dialog directory
// under <root>/run/<selfId>/.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/minds/internal/bus"
)

// ErrCorrupt marks a journal with a malformed record before the final
// line. Tail truncation is recovered silently; mid-file damage is not.
var ErrCorrupt = errors.New("journal: corrupt event log")

// Store reads and writes dialog state under one filesystem root.
type Store struct {
	root string

	// Per-(selfId, round) append locks so concurrent appends never
	// interleave partial JSON records.
	appendMu sync.Mutex
	appends  map[string]*sync.Mutex
}

// NewStore creates a store rooted at dir (typically ".dialogs").
func NewStore(dir string) *Store {
	return &Store{
		root:    dir,
		appends: make(map[string]*sync.Mutex),
	}
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// DialogDir returns the directory holding one dialog's files.
func (s *Store) DialogDir(selfID string) string {
	return filepath.Join(s.root, "run", selfID)
}

func (s *Store) roundPath(selfID string, round int) string {
	return filepath.Join(s.DialogDir(selfID), fmt.Sprintf("round-%d.jsonl", round))
}

func (s *Store) appendLock(selfID string, round int) *sync.Mutex {
	key := selfID + "/" + strconv.Itoa(round)
	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	mu, ok := s.appends[key]
	if !ok {
		mu = &sync.Mutex{}
		s.appends[key] = mu
	}
	return mu
}

// AppendEvent appends one event record to the dialog's round log.
// Appends for the same (selfID, round) are serialized; each record is
// exactly one JSON object on one line.
func (s *Store) AppendEvent(selfID string, round int, evt bus.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	mu := s.appendLock(selfID, round)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(s.DialogDir(selfID), 0o755); err != nil {
		return fmt.Errorf("create dialog dir: %w", err)
	}
	f, err := os.OpenFile(s.roundPath(selfID, round), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open round log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadRoundEvents returns all complete records of one round log in
// file order. A final line that fails to parse is dropped silently
// (a crash mid-append leaves a truncated tail); a malformed record
// anywhere earlier returns ErrCorrupt.
func (s *Store) ReadRoundEvents(selfID string, round int) ([]bus.Event, error) {
	f, err := os.Open(s.roundPath(selfID, round))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open round log: %w", err)
	}
	defer f.Close()

	var events []bus.Event
	var pendingErr error
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if pendingErr != nil {
			// The bad line was not the last one.
			return nil, pendingErr
		}
		var evt bus.Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			pendingErr = fmt.Errorf("%w: %s round %d: %v", ErrCorrupt, selfID, round, err)
			continue
		}
		events = append(events, evt)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan round log: %w", err)
	}
	return events, nil
}

// Rounds lists the round numbers present for a dialog, ascending.
func (s *Store) Rounds(selfID string) ([]int, error) {
	entries, err := os.ReadDir(s.DialogDir(selfID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rounds []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "round-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "round-"), ".jsonl"))
		if err != nil || n < 1 {
			continue
		}
		rounds = append(rounds, n)
	}
	for i := 1; i < len(rounds); i++ {
		for j := i; j > 0 && rounds[j] < rounds[j-1]; j-- {
			rounds[j], rounds[j-1] = rounds[j-1], rounds[j]
		}
	}
	return rounds, nil
}

// writeFileAtomic writes data via a temp file and rename so readers
// never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
