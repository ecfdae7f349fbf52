package clisubprocess

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefixDeltaAppendsTail(t *testing.T) {
	delta, changed := prefixDelta("Hello", "Hello, world")
	require.True(t, changed)
	require.Equal(t, ", world", delta)
}

func TestPrefixDeltaFullReplacementWhenNotAPrefix(t *testing.T) {
	delta, changed := prefixDelta("Hello", "Goodbye")
	require.True(t, changed)
	require.Equal(t, "Goodbye", delta)
}

func TestPrefixDeltaWhitespaceOnlyDiffIsNoChange(t *testing.T) {
	_, changed := prefixDelta("Hello", "Hello ")
	require.False(t, changed)

	_, changed = prefixDelta("Hello ", "Hello")
	require.False(t, changed)
}

func TestToolCallKeyPrefersID(t *testing.T) {
	c := rawContent{Type: "tool_use", ID: "abc123", Name: "exec", Input: json.RawMessage(`{"command":"ls"}`)}
	require.Equal(t, "abc123", toolCallKey(c))
}

func TestToolCallKeyFallsBackToNamePlusTruncatedInput(t *testing.T) {
	longInput := make([]byte, 500)
	for i := range longInput {
		longInput[i] = 'a'
	}
	c := rawContent{Type: "tool_use", Name: "exec", Input: json.RawMessage(longInput)}
	key := toolCallKey(c)
	require.Equal(t, "exec:"+string(longInput[:400]), key)
}

func TestParseAskUserQuestionIgnoresNonMatchingTool(t *testing.T) {
	_, ok := parseAskUserQuestion("s1", rawPermissionDenial{ToolName: "Bash"})
	require.False(t, ok)
}

func TestParseAskUserQuestionIgnoresEmptyQuestions(t *testing.T) {
	denial := rawPermissionDenial{
		ToolName:  "AskUserQuestion",
		ToolInput: json.RawMessage(`{"questions":[{"question":"","options":[]}]}`),
	}
	_, ok := parseAskUserQuestion("s1", denial)
	require.False(t, ok)
}

func TestParseAskUserQuestionExtractsWellFormedQuestion(t *testing.T) {
	denial := rawPermissionDenial{
		ToolName: "AskUserQuestion",
		ToolInput: json.RawMessage(`{"questions":[{
			"question":"Proceed with deploy?",
			"header":"Deploy",
			"multiSelect":false,
			"options":[{"label":"Yes"},{"label":"No","description":"abort"}]
		}]}`),
	}
	ev, ok := parseAskUserQuestion("s1", denial)
	require.True(t, ok)
	require.Equal(t, "s1", ev.Question.SessionID)
	require.Len(t, ev.Question.Questions, 1)
	require.Equal(t, "Proceed with deploy?", ev.Question.Questions[0].Question)
	require.Len(t, ev.Question.Questions[0].Options, 2)
}

func TestAssistantTextConcatenatesTextBlocksOnly(t *testing.T) {
	msg := &rawMessage{
		Content: []rawContent{
			{Type: "text", Text: "Hello"},
			{Type: "tool_use", Name: "exec"},
			{Type: "text", Text: " world"},
		},
	}
	require.Equal(t, "Hello world", assistantText(msg))
}
