package clisubprocess

import (
	"encoding/json"
	"strings"

	"github.com/praytools/pray-bot/internal/agentsession"
)

// rawLine is the subset of the CLI's stream-json line schema this adapter
// understands. Unrecognized fields and line types are ignored.
type rawLine struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Message   *rawMessage     `json:"message,omitempty"`
	Subtype   string          `json:"subtype,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

type rawMessage struct {
	Role    string         `json:"role"`
	Content []rawContent   `json:"content"`
	Usage   *rawUsage      `json:"usage,omitempty"`
}

type rawContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Thinking string       `json:"thinking,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result content
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type rawUsage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens"`
}

// rawResultEnvelope is the final consolidated line emitted at exit 0.
type rawResultEnvelope struct {
	Subtype           string               `json:"subtype"`
	Result            string               `json:"result"`
	Usage             rawUsage             `json:"usage"`
	TotalCostUsd      float64              `json:"total_cost_usd"`
	PermissionDenials []rawPermissionDenial `json:"permission_denials"`
}

type rawPermissionDenial struct {
	ToolName string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
}

type rawAskUserQuestionInput struct {
	Questions []rawQuestion `json:"questions"`
}

type rawQuestion struct {
	Question    string             `json:"question"`
	Header      string             `json:"header"`
	MultiSelect bool               `json:"multiSelect"`
	Options     []rawQuestionOption `json:"options"`
}

type rawQuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// assistantText concatenates the text-typed content blocks of an assistant
// message, in order.
func assistantText(msg *rawMessage) string {
	if msg == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range msg.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// prefixDelta implements the §4.D D2 reconstruction rule: if next starts
// with prev, only the appended tail is new; otherwise the whole next
// snapshot is new. Returns ("", false) when there is nothing new
// (including when the two differ only by trailing/leading whitespace).
func prefixDelta(prev, next string) (delta string, changed bool) {
	if next == prev {
		return "", false
	}
	if strings.TrimSpace(next) == strings.TrimSpace(prev) {
		return "", false
	}
	if strings.HasPrefix(next, prev) {
		tail := next[len(prev):]
		if strings.TrimSpace(tail) == "" {
			return "", false
		}
		return tail, true
	}
	return next, true
}

// toolCallKey returns the dedupe key for a tool_use block: its id when
// present, else name + first 400 chars of its input, truncated.
func toolCallKey(c rawContent) string {
	if c.ID != "" {
		return c.ID
	}
	detail := string(c.Input)
	if len(detail) > 400 {
		detail = detail[:400]
	}
	return c.Name + ":" + detail
}

// parseToolInput decodes a tool_use block's raw JSON input into a map.
func parseToolInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// parseAskUserQuestion extracts a question event's content from a
// permission_denials entry whose tool_name is AskUserQuestion. Returns
// ok=false when the entry lacks question text or options (per spec, such
// entries are ignored rather than emitted as empty questions).
func parseAskUserQuestion(sessionID string, denial rawPermissionDenial) (agentsession.AgentEvent, bool) {
	if denial.ToolName != "AskUserQuestion" {
		return agentsession.AgentEvent{}, false
	}
	var input rawAskUserQuestionInput
	if err := json.Unmarshal(denial.ToolInput, &input); err != nil {
		return agentsession.AgentEvent{}, false
	}

	var questions []agentsession.Question
	for _, q := range input.Questions {
		if q.Question == "" || len(q.Options) == 0 {
			continue
		}
		var opts []agentsession.QuestionOption
		for _, o := range q.Options {
			opts = append(opts, agentsession.QuestionOption{Label: o.Label, Description: o.Description})
		}
		questions = append(questions, agentsession.Question{
			Question:    q.Question,
			Header:      q.Header,
			Options:     opts,
			MultiSelect: q.MultiSelect,
		})
	}
	if len(questions) == 0 {
		return agentsession.AgentEvent{}, false
	}
	return agentsession.QuestionEvent(sessionID, questions), true
}
