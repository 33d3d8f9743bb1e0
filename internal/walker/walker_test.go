package walker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/Sesame-Disk/backupcore/internal/ignore"
)

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

// collect drives Walk and gathers every emitted path. Sink is called
// concurrently from up to Options.workers() goroutines (spec §4.7), so the
// shared slice is guarded by a mutex, exercising the same synchronize-
// internally contract any real Sink must honor.
func collect(t *testing.T, root string, opts Options) (*Result, []string) {
	t.Helper()
	var mu sync.Mutex
	var paths []string
	result, err := Walk(context.Background(), root, opts, func(ev FileEvent) {
		mu.Lock()
		paths = append(paths, ev.Path)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	return result, paths
}

func TestWalk_FindsAllFiles(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), 10)
	mustWriteFile(t, filepath.Join(root, "sub", "b.txt"), 20)
	mustWriteFile(t, filepath.Join(root, "sub", "deeper", "c.txt"), 30)

	result, paths := collect(t, root, DefaultOptions())
	if len(paths) != 3 {
		t.Fatalf("found %d files, want 3: %v", len(paths), paths)
	}
	files, dirs, bytes := result.Stats.Snapshot()
	if files != 3 {
		t.Errorf("Stats.Files = %d, want 3", files)
	}
	if dirs != 3 { // root, sub, sub/deeper
		t.Errorf("Stats.Directories = %d, want 3", dirs)
	}
	if bytes != 60 {
		t.Errorf("Stats.TotalBytes = %d, want 60", bytes)
	}
	if result.Cancelled {
		t.Error("unexpected Cancelled=true")
	}
}

func TestWalk_NoDuplicateVisits(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a", "1.txt"), 1)
	mustWriteFile(t, filepath.Join(root, "b", "2.txt"), 1)

	opts := DefaultOptions()
	opts.Workers = 4
	result, _ := collect(t, root, opts)

	_, dirs, _ := result.Stats.Snapshot()
	if dirs != 3 { // root, a, b, each visited exactly once
		t.Fatalf("Stats.Directories = %d, want 3 (no duplicate visits)", dirs)
	}
}

func TestWalk_SkipsHiddenByDefault(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "visible.txt"), 1)
	mustWriteFile(t, filepath.Join(root, ".hidden.txt"), 1)
	mustWriteFile(t, filepath.Join(root, ".hiddendir", "nested.txt"), 1)

	_, paths := collect(t, root, DefaultOptions())
	if len(paths) != 1 {
		t.Fatalf("found %d files, want 1 (hidden entries skipped): %v", len(paths), paths)
	}
}

func TestWalk_IncludeHidden(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "visible.txt"), 1)
	mustWriteFile(t, filepath.Join(root, ".hidden.txt"), 1)

	opts := DefaultOptions()
	opts.IncludeHidden = true
	_, paths := collect(t, root, opts)
	if len(paths) != 2 {
		t.Fatalf("found %d files, want 2 with IncludeHidden=true: %v", len(paths), paths)
	}
}

func TestWalk_SizeFilters(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "tiny.bin"), 5)
	mustWriteFile(t, filepath.Join(root, "mid.bin"), 50)
	mustWriteFile(t, filepath.Join(root, "huge.bin"), 500)

	opts := DefaultOptions()
	opts.MinSize = 10
	opts.MaxSize = 100
	_, paths := collect(t, root, opts)
	if len(paths) != 1 {
		t.Fatalf("found %d files, want 1 (only mid.bin within [10,100]): %v", len(paths), paths)
	}
}

func TestWalk_MaxDepth(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "l0.txt"), 1)
	mustWriteFile(t, filepath.Join(root, "d1", "l1.txt"), 1)
	mustWriteFile(t, filepath.Join(root, "d1", "d2", "l2.txt"), 1)

	opts := DefaultOptions()
	opts.MaxDepth = 1
	_, paths := collect(t, root, opts)
	if len(paths) != 2 {
		t.Fatalf("found %d files, want 2 (l0.txt and d1/l1.txt within depth 1): %v", len(paths), paths)
	}
}

func TestWalk_IgnoreRulesApplyToFilesAndDirs(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "keep.txt"), 1)
	mustWriteFile(t, filepath.Join(root, "skip.log"), 1)
	mustWriteFile(t, filepath.Join(root, "build", "output.txt"), 1)

	set, err := ignore.NewSet(root, []string{"*.log", "build"})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	opts := DefaultOptions()
	opts.Ignore = set
	_, paths := collect(t, root, opts)
	if len(paths) != 1 {
		t.Fatalf("found %d files, want 1 (keep.txt only): %v", len(paths), paths)
	}
}

func TestWalk_ErrorIsolation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits behave differently on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("running as root bypasses permission checks")
	}

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "ok", "a.txt"), 1)
	denied := filepath.Join(root, "denied")
	mustMkdirAll(t, denied)
	mustWriteFile(t, filepath.Join(denied, "secret.txt"), 1)

	if err := os.Chmod(denied, 0o000); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	defer os.Chmod(denied, 0o755)

	result, paths := collect(t, root, DefaultOptions())
	if len(paths) != 1 {
		t.Fatalf("found %d files, want 1 (denied dir's contents skipped, not crashed): %v", len(paths), paths)
	}
	if len(result.Errors) == 0 {
		t.Fatal("expected at least one collected ScanError for the denied directory")
	}
	found := false
	for _, e := range result.Errors {
		if e.Kind == ErrAccessDenied {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an ErrAccessDenied error, got %+v", result.Errors)
	}
}

func TestWalk_SymlinkLoopProtection(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires elevated privileges on windows")
	}

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "real", "a.txt"), 1)
	loopLink := filepath.Join(root, "real", "loop")
	if err := os.Symlink(root, loopLink); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	opts := DefaultOptions()
	opts.FollowSymlinks = true

	done := make(chan struct{})
	var result *Result
	go func() {
		result, _ = collect(t, root, opts)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Walk did not terminate, symlink loop protection failed")
	}
	if result.Cancelled {
		t.Fatal("unexpected cancellation")
	}
}

func TestWalk_ContextCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		mustWriteFile(t, filepath.Join(root, "d", string(rune('a'+i%26)), "f.txt"), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Walk(ctx, root, DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !result.Cancelled {
		t.Error("expected Cancelled=true for a pre-cancelled context")
	}
}

func TestWalk_NilSinkIsValid(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), 1)

	result, err := Walk(context.Background(), root, DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	files, _, _ := result.Stats.Snapshot()
	if files != 1 {
		t.Errorf("Stats.Files = %d, want 1 even with a nil sink", files)
	}
}
