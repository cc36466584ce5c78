package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentStatusValid(t *testing.T) {
	for _, s := range []AgentStatus{AgentStatusIdle, AgentStatusActive, AgentStatusBusy, AgentStatusError} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, AgentStatus("sleeping").Valid())
	assert.False(t, AgentStatus("").Valid())
}

func TestPushMessageUnmarshalLooseData(t *testing.T) {
	var msg PushMessage
	err := json.Unmarshal([]byte(`{
		"type": "agent_status",
		"data": {
			"name": "Researcher",
			"status": "busy",
			"progress": 42,
			"online": true,
			"tools": ["search", "pdf"],
			"nested": {"x": 1},
			"missing": null
		}
	}`), &msg)
	require.NoError(t, err)

	assert.Equal(t, "agent_status", msg.Type)
	assert.Equal(t, "Researcher", msg.Data["name"])
	assert.Equal(t, "42", msg.Data["progress"])
	assert.Equal(t, "true", msg.Data["online"])
	assert.Equal(t, "search,pdf", msg.Data["tools"])
	assert.NotContains(t, msg.Data, "nested")
	assert.NotContains(t, msg.Data, "missing")
}

func TestPushMessageAgent(t *testing.T) {
	msg := PushMessage{Type: "agent_status", Data: map[string]string{
		"name":       "A",
		"status":     "active",
		"lastAction": "Processing: analyze image",
		"tools":      "click, keyboard ,",
	}}
	agent, ok := msg.Agent()
	require.True(t, ok)
	assert.Equal(t, "A", agent.Name)
	assert.Equal(t, AgentStatusActive, agent.Status)
	assert.Equal(t, "Processing: analyze image", agent.LastAction)
	assert.Equal(t, []string{"click", "keyboard"}, agent.Tools)

	_, ok = PushMessage{Data: map[string]string{"name": "A"}}.Agent()
	assert.False(t, ok, "status is required")
	_, ok = PushMessage{Data: map[string]string{"status": "idle"}}.Agent()
	assert.False(t, ok, "name is required")
	_, ok = PushMessage{}.Agent()
	assert.False(t, ok)
}

func TestPushMessageAgentIsWholeReplacement(t *testing.T) {
	agent, ok := PushMessage{Data: map[string]string{"name": " A", "status": "busy"}}.Agent()
	require.True(t, ok)
	assert.Equal(t, Agent{Name: " A", Status: AgentStatusBusy}, agent)

	_, ok = PushMessage{Data: map[string]string{"name": "  ", "status": "busy"}}.Agent()
	assert.False(t, ok, "blank name")
}

func TestPushMessageResult(t *testing.T) {
	res, ok := PushMessage{Data: map[string]string{"type": "image", "content": "result.jpg", "alt": "Analysis result"}}.Result()
	require.True(t, ok)
	assert.Equal(t, Result{Type: ResultImage, Content: "result.jpg", Alt: "Analysis result"}, res)

	_, ok = PushMessage{Data: map[string]string{"type": "text"}}.Result()
	assert.False(t, ok)
}
