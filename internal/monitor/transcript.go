package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// askUserQuestionTool names the tool whose pending tool_use marks a
// session as waiting_question rather than waiting_permission (spec.md
// §4.G step 5).
const askUserQuestionTool = "ask_user_question"

// transcriptFile is one discovered `<home>/projects/<key>/<uuid>.jsonl`.
type transcriptFile struct {
	Path       string
	ProjectKey string
	SessionID  string
	ModTime    time.Time
}

// discoverTranscripts walks `<home>/projects/*/*.jsonl`, grouped by
// project-key and sorted by mtime descending within each group (spec.md
// §4.G step 2).
func discoverTranscripts(home string) (map[string][]transcriptFile, error) {
	root := filepath.Join(home, "projects")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return map[string][]transcriptFile{}, nil
	}
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]transcriptFile)
	for _, dirEnt := range entries {
		if !dirEnt.IsDir() {
			continue
		}
		projectKey := dirEnt.Name()
		projectDir := filepath.Join(root, projectKey)
		files, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			sessionID := strings.TrimSuffix(f.Name(), ".jsonl")
			groups[projectKey] = append(groups[projectKey], transcriptFile{
				Path:       filepath.Join(projectDir, f.Name()),
				ProjectKey: projectKey,
				SessionID:  sessionID,
				ModTime:    info.ModTime(),
			})
		}
	}
	for k := range groups {
		sort.Slice(groups[k], func(i, j int) bool {
			return groups[k][i].ModTime.After(groups[k][j].ModTime)
		})
	}
	return groups, nil
}

// transcriptMeta is what extractMetadata derives from a full re-tail of a
// transcript's entries (spec.md §4.G step 3).
type transcriptMeta struct {
	Model         string
	Slug          string
	CWD           string
	GitBranch     string
	Version       string
	TurnCount     int
	Tokens        TokenTotals
	LastUserMsg   string
	CurrentTools  []string
	ActivityPhase ActivityPhase
	WaitReason    WaitReason
	WaitToolNames []string
	LastActivity  time.Time
}

type contentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	ToolUse string          `json:"tool_use_id"`
	Input   json.RawMessage `json:"input"`
}

type transcriptEntry struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	CWD       string          `json:"cwd"`
	GitBranch string          `json:"gitBranch"`
	Version   string          `json:"version"`
	Slug      string          `json:"slug"`
	Message   *struct {
		Role       string          `json:"role"`
		Model      string          `json:"model"`
		StopReason string          `json:"stop_reason"`
		Content    json.RawMessage `json:"content"`
		Usage      *struct {
			InputTokens      int64 `json:"input_tokens"`
			OutputTokens     int64 `json:"output_tokens"`
			CacheReadTokens  int64 `json:"cache_read_input_tokens"`
			CacheWriteTokens int64 `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

func parseContentBlocks(raw json.RawMessage) []contentBlock {
	if len(raw) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []contentBlock{{Type: "text", Text: asString}}
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return blocks
	}
	return nil
}

// truncateUTF8 truncates s to at most n runes, appending an ellipsis if
// it was cut (spec.md §4.G step 3: "truncated to <=100 UTF-8 chars").
func truncateUTF8(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// extractMetadata parses every JSONL line of a transcript and derives the
// fields spec.md §4.G step 3 names, including the activityPhase
// classification of step 5 (terminal-marker based; the hook override, if
// any, is applied by the caller).
func extractMetadata(lines [][]byte) transcriptMeta {
	var meta transcriptMeta

	// pendingToolUse tracks tool_use ids seen in any assistant message so
	// far that have not yet been matched by a tool_result.
	pendingToolUse := make(map[string]string) // id -> tool name
	var lastAssistantStopReason string
	var lastAssistantHasContent bool
	var currentTools []string

	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var e transcriptEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if e.CWD != "" {
			meta.CWD = e.CWD
		}
		if e.GitBranch != "" {
			meta.GitBranch = e.GitBranch
		}
		if e.Version != "" {
			meta.Version = e.Version
		}
		if e.Slug != "" {
			meta.Slug = e.Slug
		}
		if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
			meta.LastActivity = ts
		}

		if e.Message == nil {
			continue
		}
		blocks := parseContentBlocks(e.Message.Content)

		switch e.Message.Role {
		case "user":
			meta.TurnCount++
			// tool_result blocks inside a user-role entry resolve prior
			// tool_use ids (spec.md: "unresolved tool_use" tracking).
			for _, b := range blocks {
				if b.Type == "tool_result" && b.ToolUse != "" {
					delete(pendingToolUse, b.ToolUse)
				}
				if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
					meta.LastUserMsg = truncateUTF8(b.Text, 100)
				}
			}

		case "assistant":
			if e.Message.Model != "" {
				meta.Model = e.Message.Model
			}
			if e.Message.Usage != nil {
				meta.Tokens.Input += e.Message.Usage.InputTokens
				meta.Tokens.Output += e.Message.Usage.OutputTokens
				meta.Tokens.Cached += e.Message.Usage.CacheReadTokens + e.Message.Usage.CacheWriteTokens
			}
			lastAssistantStopReason = e.Message.StopReason
			lastAssistantHasContent = len(blocks) > 0
			currentTools = currentTools[:0]
			for _, b := range blocks {
				if b.Type == "tool_use" {
					pendingToolUse[b.ID] = b.Name
					currentTools = append(currentTools, b.Name)
				}
			}
		}
	}

	meta.CurrentTools = append([]string(nil), currentTools...)

	switch {
	case lastAssistantHasContent && lastAssistantStopReason == "":
		meta.ActivityPhase = PhaseBusy
	case len(pendingToolUse) > 0:
		askingQuestion := false
		var waitTools []string
		for _, name := range pendingToolUse {
			waitTools = append(waitTools, name)
			if strings.Contains(strings.ToLower(name), askUserQuestionTool) {
				askingQuestion = true
			}
		}
		meta.WaitToolNames = waitTools
		if askingQuestion {
			meta.ActivityPhase = PhaseWaitingQuestion
			meta.WaitReason = WaitQuestion
		} else {
			meta.ActivityPhase = PhaseWaitingPermission
			meta.WaitReason = WaitPermission
		}
	case lastAssistantStopReason == "end_turn":
		meta.ActivityPhase = PhaseInteractable
	default:
		meta.ActivityPhase = PhaseInteractable
	}

	return meta
}

func readAllLines(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return splitLines(data), nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
