package rpcserver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageClassification(t *testing.T) {
	req := rpcMessage{Method: "item/tool/requestUserInput", ID: json.RawMessage(`"1"`)}
	require.True(t, req.isServerRequest())
	require.False(t, req.isNotification())
	require.False(t, req.isResponse())

	notif := rpcMessage{Method: "item/agentMessage/delta"}
	require.True(t, notif.isNotification())
	require.False(t, notif.isServerRequest())

	resp := rpcMessage{ID: json.RawMessage(`"1"`), Result: json.RawMessage(`{}`)}
	require.True(t, resp.isResponse())
	require.False(t, resp.isNotification())
}

func TestDefaultDecisionDeclinesApprovals(t *testing.T) {
	d := defaultDecision(MethodRequestCommandApproval, nil)
	require.Equal(t, "decline", d.Decision)
}

func TestDefaultDecisionAnswersFirstOptionForToolUserInput(t *testing.T) {
	params := json.RawMessage(`{"questions":[{"id":"q1","options":[{"label":"yes"},{"label":"no"}]},{"id":"q2","options":[]}]}`)
	d := defaultDecision(MethodRequestToolUserInput, params)
	require.Equal(t, "accept", d.Decision)
	require.Equal(t, "yes", d.Answers["q1"])
	require.Equal(t, "", d.Answers["q2"])
}
