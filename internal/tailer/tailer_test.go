package tailer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTailer(t *testing.T) (*Tailer, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	store, err := LoadOffsetStore(filepath.Join(dir, "offsets.json"))
	require.NoError(t, err)

	return New(path, store), path
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

// TestTailerDeliversInFileOrderPerGroup covers invariant #10's base case:
// two independently-progressing groups each see every complete line,
// in file order, exactly once.
func TestTailerDeliversInFileOrderPerGroup(t *testing.T) {
	tl, path := newTestTailer(t)

	var groupA, groupB []string
	tl.RegisterGroup("a", func(line []byte) error {
		groupA = append(groupA, string(line))
		return nil
	})
	tl.RegisterGroup("b", func(line []byte) error {
		groupB = append(groupB, string(line))
		return nil
	})

	appendLines(t, path, `{"n":1}`, `{"n":2}`)
	require.NoError(t, tl.Poll(context.Background()))

	appendLines(t, path, `{"n":3}`)
	require.NoError(t, tl.Poll(context.Background()))

	want := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}
	require.Equal(t, want, groupA)
	require.Equal(t, want, groupB)
}

// TestTailerTrailingPartialLineNotConsumed ensures a line with no
// trailing newline yet is retried, not dropped or delivered early.
func TestTailerTrailingPartialLineNotConsumed(t *testing.T) {
	tl, path := newTestTailer(t)

	var got []string
	tl.RegisterGroup("a", func(line []byte) error {
		got = append(got, string(line))
		return nil
	})

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"n":1}` + "\n" + `{"n":2}`) // no trailing newline
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, tl.Poll(context.Background()))
	require.Equal(t, []string{`{"n":1}`}, got)

	appendLines(t, path, "") // complete the partial line
	require.NoError(t, tl.Poll(context.Background()))
	require.Equal(t, []string{`{"n":1}`, `{"n":2}`}, got)
}

// TestTailerFailingHandlerRetriesWithoutBlockingOthers covers §4.F: a
// group whose onEvent errors does not advance its offset and is retried
// next poll, while other groups progress independently.
func TestTailerFailingHandlerRetriesWithoutBlockingOthers(t *testing.T) {
	tl, path := newTestTailer(t)

	fail := true
	var failGroup, okGroup []string
	tl.RegisterGroup("fail", func(line []byte) error {
		if fail {
			return errors.New("boom")
		}
		failGroup = append(failGroup, string(line))
		return nil
	})
	tl.RegisterGroup("ok", func(line []byte) error {
		okGroup = append(okGroup, string(line))
		return nil
	})

	appendLines(t, path, `{"n":1}`, `{"n":2}`)
	require.NoError(t, tl.Poll(context.Background()))

	require.Empty(t, failGroup, "failing group must not advance past the failing line")
	require.Equal(t, []string{`{"n":1}`, `{"n":2}`}, okGroup, "healthy group must not be blocked by the other's failure")

	fail = false
	require.NoError(t, tl.Poll(context.Background()))
	require.Equal(t, []string{`{"n":1}`, `{"n":2}`}, failGroup, "once healthy, the retried group catches up in file order")
}

// TestTailerRotationResetsOffsetAndRedelivers covers invariant #10's
// rotation clause: when the file at path is replaced by a new inode, the
// tailer detects it, resets that group's offset to 0, and delivers the
// new file's lines from the start without skipping or duplicating lines
// that were already delivered from the pre-rotation file.
func TestTailerRotationResetsOffsetAndRedelivers(t *testing.T) {
	tl, path := newTestTailer(t)

	var got []string
	tl.RegisterGroup("a", func(line []byte) error {
		got = append(got, string(line))
		return nil
	})

	appendLines(t, path, `{"n":"pre-1"}`, `{"n":"pre-2"}`)
	require.NoError(t, tl.Poll(context.Background()))
	require.Equal(t, []string{`{"n":"pre-1"}`, `{"n":"pre-2"}`}, got)

	// Simulate rotation: remove and recreate the file at the same path,
	// which gets a new inode on most filesystems.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	appendLines(t, path, `{"n":"post-1"}`)

	require.NoError(t, tl.Poll(context.Background()))

	require.Equal(t, []string{`{"n":"pre-1"}`, `{"n":"pre-2"}`, `{"n":"post-1"}`}, got)
}

// TestTailerCanRotateTrueOnlyWhenAllGroupsCaughtUp covers canRotate():
// true iff every registered group's offset has reached the current size.
func TestTailerCanRotateTrueOnlyWhenAllGroupsCaughtUp(t *testing.T) {
	tl, path := newTestTailer(t)

	fail := true
	tl.RegisterGroup("slow", func(line []byte) error {
		if fail {
			return errors.New("not yet")
		}
		return nil
	})
	tl.RegisterGroup("fast", func(line []byte) error {
		return nil
	})

	appendLines(t, path, `{"n":1}`)
	require.NoError(t, tl.Poll(context.Background()))

	can, err := tl.CanRotate(context.Background())
	require.NoError(t, err)
	require.False(t, can, "slow group has not consumed the line yet")

	fail = false
	require.NoError(t, tl.Poll(context.Background()))

	can, err = tl.CanRotate(context.Background())
	require.NoError(t, err)
	require.True(t, can)
}

func TestOffsetStorePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "offsets.json")

	s, err := LoadOffsetStore(storePath)
	require.NoError(t, err)
	require.NoError(t, s.Set("/tmp/a.jsonl", "g1", GroupOffset{Inode: 7, ByteOffset: 42}))

	reloaded, err := LoadOffsetStore(storePath)
	require.NoError(t, err)
	require.Equal(t, GroupOffset{Inode: 7, ByteOffset: 42}, reloaded.Get("/tmp/a.jsonl", "g1"))
	require.Equal(t, GroupOffset{}, reloaded.Get("/tmp/a.jsonl", "unknown-group"))
}
