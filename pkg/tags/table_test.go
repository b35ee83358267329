package tags

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func static(out string) Handler {
	return HandlerFunc(func(map[string]string, string) string { return out })
}

func TestTable_RegisterValidation(t *testing.T) {
	tbl := NewTable()
	for _, name := range []string{"", "a b", "x/y", "[x]", "a=b", "a<b", "tab\there"} {
		if err := tbl.Register(name, static("")); err == nil {
			t.Errorf("Register(%q) should fail", name)
		}
	}
	if err := tbl.Register("ok-name_1", nil); err == nil {
		t.Error("Register with a nil handler should fail")
	}
	if err := tbl.Register("ok-name_1", static("")); err != nil {
		t.Errorf("Register(valid) failed: %v", err)
	}
	if !tbl.Has("ok-name_1") {
		t.Error("registered name not found")
	}
}

func TestTable_SnapshotResetRestore(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Register("host", static("H"))
	_ = tbl.Register("other", static("O"))

	snap := tbl.Snapshot()
	tbl.Reset()
	if len(tbl.Names()) != 0 {
		t.Fatalf("Reset left handlers behind: %v", tbl.Names())
	}

	_ = tbl.Register("plugin", static("P"))
	// Mutating the table must not leak into the snapshot.
	if _, ok := snap["plugin"]; ok {
		t.Fatal("snapshot shares state with the table")
	}

	tbl.Restore(snap)
	if diff := cmp.Diff([]string{"host", "other"}, tbl.Names()); diff != "" {
		t.Errorf("names after restore mismatch (-want +got):\n%s", diff)
	}

	// Restoring an empty snapshot leaves a usable, empty table.
	tbl.Restore(nil)
	if err := tbl.Register("again", static("")); err != nil {
		t.Errorf("Register after Restore(nil) failed: %v", err)
	}
}

func TestTable_Remove(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Register("x", static(""))
	tbl.Remove("x")
	tbl.Remove("missing")
	if tbl.Has("x") {
		t.Error("Remove did not delete the handler")
	}
}

func TestTable_StripUnregistered(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Register("keep", static(""))
	got := tbl.StripUnregistered(`[keep a="/b"]x[/keep][drop]y[/drop]`)
	if got != `[keep a="/b"]x[/keep]y` {
		t.Errorf("StripUnregistered = %q", got)
	}
}

func TestTable_ConcurrentAccess(t *testing.T) {
	tbl := NewTable()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "tag" + strings.Repeat("x", i)
			for j := 0; j < 50; j++ {
				_ = tbl.Register(name, static(name))
				_ = tbl.Expand("[" + name + "]")
				_ = tbl.Snapshot()
				tbl.Remove(name)
			}
		}(i)
	}
	wg.Wait()
}
