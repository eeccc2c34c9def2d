package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/minds/internal/bus"
	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestAppendAndRead(t *testing.T) {
	s := testStore(t)
	for i := 1; i <= 3; i++ {
		evt := bus.New(protocol.RecordUserPrompt)
		evt.Genseq = i
		evt.Text = fmt.Sprintf("prompt %d", i)
		if err := s.AppendEvent("d1", 1, evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	events, err := s.ReadRoundEvents("d1", 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, evt := range events {
		if evt.Genseq != i+1 {
			t.Errorf("event %d genseq = %d, want %d", i, evt.Genseq, i+1)
		}
	}
}

func TestReadMissingRound(t *testing.T) {
	s := testStore(t)
	events, err := s.ReadRoundEvents("nope", 1)
	if err != nil || events != nil {
		t.Errorf("missing round: got (%v, %v), want (nil, nil)", events, err)
	}
}

func TestConcurrentAppendStress(t *testing.T) {
	s := testStore(t)
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			evt := bus.New(protocol.RecordAgentWords)
			evt.Genseq = i
			evt.Text = fmt.Sprintf("writer %d says something long enough to matter", i)
			if err := s.AppendEvent("d1", 1, evt); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	// Simulate a crash mid-append: unterminated JSON fragment.
	path := filepath.Join(s.DialogDir("d1"), "round-1.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"type":"agent_words_record","ts":123,"tex`)
	f.Close()

	events, err := s.ReadRoundEvents("d1", 1)
	if err != nil {
		t.Fatalf("read after truncation: %v", err)
	}
	if len(events) != n {
		t.Errorf("got %d events, want %d", len(events), n)
	}
	seen := make(map[int]bool)
	for _, evt := range events {
		seen[evt.Genseq] = true
	}
	if len(seen) != n {
		t.Errorf("got %d distinct genseqs, want %d", len(seen), n)
	}
}

func TestCorruptMidFile(t *testing.T) {
	s := testStore(t)
	if err := s.AppendEvent("d1", 2, bus.New(protocol.RecordUserPrompt)); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(s.DialogDir("d1"), "round-2.jsonl")
	f, _ := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	f.WriteString("not json at all\n")
	f.Close()
	if err := s.AppendEvent("d1", 2, bus.New(protocol.RecordUserPrompt)); err != nil {
		t.Fatal(err)
	}

	_, err := s.ReadRoundEvents("d1", 2)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("mid-file corruption: err = %v, want ErrCorrupt", err)
	}
}

func TestRounds(t *testing.T) {
	s := testStore(t)
	for _, r := range []int{3, 1, 10, 2} {
		if err := s.AppendEvent("d1", r, bus.New(protocol.RecordRoundAdvance)); err != nil {
			t.Fatal(err)
		}
	}
	rounds, err := s.Rounds("d1")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, 2, 3, 10}
	if len(rounds) != len(want) {
		t.Fatalf("rounds = %v, want %v", rounds, want)
	}
	for i := range want {
		if rounds[i] != want[i] {
			t.Fatalf("rounds = %v, want %v", rounds, want)
		}
	}
}

func TestPendingSummariesTake(t *testing.T) {
	s := testStore(t)
	for i := 0; i < 3; i++ {
		err := s.AddPendingSummary("root", PendingSummary{
			SubdialogID: fmt.Sprintf("sd%d", i),
			Summary:     "done",
			CompletedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	taken, err := s.TakePendingSummaries("root")
	if err != nil {
		t.Fatal(err)
	}
	if len(taken) != 3 {
		t.Fatalf("took %d summaries, want 3", len(taken))
	}
	again, err := s.TakePendingSummaries("root")
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second take returned %d summaries, want 0", len(again))
	}
}

func TestRemindersRoundTrip(t *testing.T) {
	s := testStore(t)
	in := []Reminder{
		{Content: "check the build", OwnerName: "reminder"},
		{Content: "ping ops", OwnerName: "gone-tool", Meta: []byte(`{"k":1}`)},
	}
	if err := s.SaveReminders("d1", in); err != nil {
		t.Fatal(err)
	}
	out, err := s.LoadReminders("d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].Content != "check the build" || out[1].OwnerName != "gone-tool" {
		t.Errorf("round trip = %+v", out)
	}
	if string(out[1].Meta) != `{"k":1}` {
		t.Errorf("meta not preserved verbatim: %s", out[1].Meta)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	s := testStore(t)
	in := []MutexEntry{
		{AgentID: "cmdr", TopicID: "review", SubdialogID: "sd1", Locked: true},
		{AgentID: "cmdr", TopicID: "build", SubdialogID: "sd2", Locked: false},
	}
	if err := s.SaveRegistry("root", in); err != nil {
		t.Fatal(err)
	}
	out, err := s.LoadRegistry("root")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || !out[0].Locked || out[1].SubdialogID != "sd2" {
		t.Errorf("round trip = %+v", out)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	s := testStore(t)
	in := Meta{
		AgentID:   "pangu",
		RootID:    "root1",
		ParentID:  "root1",
		TopicID:   "review",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveMeta("sd1", in); err != nil {
		t.Fatal(err)
	}
	out, err := s.LoadMeta("sd1")
	if err != nil {
		t.Fatal(err)
	}
	if out.AgentID != "pangu" || out.ParentID != "root1" || out.TopicID != "review" {
		t.Errorf("round trip = %+v", out)
	}
}
