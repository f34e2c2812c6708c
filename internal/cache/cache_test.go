package cache

import (
	"fmt"
	"testing"

	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

func TestKeyDeterministic(t *testing.T) {
	a := Key("hello", ttypes.VoiceF1, 5)
	b := Key("hello", ttypes.VoiceF1, 5)
	if a != b {
		t.Error("identical inputs produced different keys")
	}
}

func TestKeyDistinguishesInputs(t *testing.T) {
	base := Key("hello", ttypes.VoiceF1, 5)

	tests := []struct {
		name string
		key  string
	}{
		{"different text", Key("goodbye", ttypes.VoiceF1, 5)},
		{"different voice", Key("hello", ttypes.VoiceM1, 5)},
		{"different steps", Key("hello", ttypes.VoiceF1, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.key == base {
				t.Error("key collision for distinct synthesis inputs")
			}
		})
	}
}

func TestManagerPutGet(t *testing.T) {
	m, err := NewManager(0, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	key := Key("hello", ttypes.VoiceF1, 5)
	pcm := []byte{1, 2, 3, 4}

	if _, ok := m.Get(key); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	if err := m.Put(key, pcm); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := m.Get(key)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if string(got) != string(pcm) {
		t.Errorf("got %v, want %v", got, pcm)
	}

	stats := m.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 miss", stats)
	}
	if stats.Bytes != int64(len(pcm)) {
		t.Errorf("bytes = %d, want %d", stats.Bytes, len(pcm))
	}
}

func TestManagerEntryLimitEvicts(t *testing.T) {
	m, err := NewManager(2, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := m.Put(fmt.Sprintf("key-%d", i), []byte{byte(i)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if _, ok := m.Get("key-0"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := m.Get("key-2"); !ok {
		t.Error("newest entry missing")
	}

	stats := m.Stats()
	if stats.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", stats.Evictions)
	}
	if stats.Entries != 2 {
		t.Errorf("entries = %d, want 2", stats.Entries)
	}
}

func TestManagerByteBudgetEvicts(t *testing.T) {
	m, err := NewManager(100, 10)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	m.Put("a", make([]byte, 4))
	m.Put("b", make([]byte, 4))
	m.Put("c", make([]byte, 4)) // pushes total to 12, so "a" must go

	if _, ok := m.Get("a"); ok {
		t.Error("entry should have been evicted to honor byte budget")
	}
	if stats := m.Stats(); stats.Bytes > 10 {
		t.Errorf("bytes = %d, exceeds budget", stats.Bytes)
	}
}

func TestManagerRejectsOversizeEntry(t *testing.T) {
	m, err := NewManager(10, 8)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := m.Put("big", make([]byte, 16)); err != ErrEntryTooLarge {
		t.Errorf("Put oversize = %v, want ErrEntryTooLarge", err)
	}
}

func TestManagerReplaceAccountsBytes(t *testing.T) {
	m, err := NewManager(10, 100)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	m.Put("k", make([]byte, 40))
	m.Put("k", make([]byte, 20))

	if stats := m.Stats(); stats.Bytes != 20 {
		t.Errorf("bytes = %d after replace, want 20", stats.Bytes)
	}
}

func TestManagerClear(t *testing.T) {
	m, err := NewManager(10, 100)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	m.Put("a", []byte{1})
	m.Put("b", []byte{2})
	m.Clear()

	if _, ok := m.Get("a"); ok {
		t.Error("entry survived Clear")
	}
	stats := m.Stats()
	if stats.Entries != 0 || stats.Bytes != 0 {
		t.Errorf("stats after Clear = %+v", stats)
	}
	if stats.Evictions != 0 {
		t.Errorf("Clear counted %d evictions, want 0", stats.Evictions)
	}
}
