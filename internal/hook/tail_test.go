package hook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadLastAssistantTextIgnoresToolUse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.jsonl")
	content := strings.Join([]string{
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"first"}]}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","name":"bash"},{"type":"text","text":"second part one"},{"type":"text","text":"second part two"}]}}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	text, err := ReadLastAssistantText(path)
	require.NoError(t, err)
	require.Equal(t, "second part one\nsecond part two", text)
}

func TestReadLastAssistantTextEmptyWhenOnlyToolUse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.jsonl")
	content := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","name":"bash"}]}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	text, err := ReadLastAssistantText(path)
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestTruncateAddsEllipsis(t *testing.T) {
	require.Equal(t, "ab…", truncate("abcdef", 2))
	require.Equal(t, "abcdef", truncate("abcdef", 10))
}
