package types

import (
	"encoding/json"
	"strconv"
	"strings"
)

type AgentStatus string

const (
	AgentStatusIdle   AgentStatus = "idle"
	AgentStatusActive AgentStatus = "active"
	AgentStatusBusy   AgentStatus = "busy"
	AgentStatusError  AgentStatus = "error"
)

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusActive, AgentStatusBusy, AgentStatusError:
		return true
	default:
		return false
	}
}

type AgentKind string

const (
	AgentKindTaskOrchestrator   AgentKind = "TaskOrchestrator"
	AgentKindVisionAnalysis     AgentKind = "VisionAnalysis"
	AgentKindDesktopInteraction AgentKind = "DesktopInteraction"
	AgentKindWebAutomation      AgentKind = "WebAutomation"
	AgentKindResearch           AgentKind = "Research"
)

// Agent mirrors a backend-managed worker. Name is the identity used by push
// updates; ID is whatever the backend hands out and may be empty.
type Agent struct {
	ID          string      `json:"id,omitempty"`
	Name        string      `json:"name"`
	Type        AgentKind   `json:"type,omitempty"`
	Status      AgentStatus `json:"status"`
	CurrentTask string      `json:"currentTask,omitempty"`
	LastAction  string      `json:"lastAction"`
	Tools       []string    `json:"tools,omitempty"`
}

func (a Agent) Clone() Agent {
	out := a
	if a.Tools != nil {
		out.Tools = append([]string(nil), a.Tools...)
	}
	return out
}

type ResultType string

const (
	ResultText  ResultType = "text"
	ResultImage ResultType = "image"
)

// Result is one unit of command output. For image results Content is a URL.
type Result struct {
	Type    ResultType `json:"type"`
	Content string     `json:"content"`
	Alt     string     `json:"alt,omitempty"`
}

type CommandRequest struct {
	Command string `json:"command"`
}

type CommandResponse struct {
	Results []Result `json:"results"`
	Error   string   `json:"error,omitempty"`
}

type UploadResponse struct {
	URL string `json:"url"`
}

// PushMessage is the payload carried by every named push event.
type PushMessage struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

// Agent decodes an agent_status payload into a complete replacement for the
// agent of the same name. A payload needs a name and a status to count as an
// agent update; tools arrive comma-separated. The name is kept verbatim so it
// matches the stored entry exactly.
func (m PushMessage) Agent() (Agent, bool) {
	name := m.Data["name"]
	status, hasStatus := m.Data["status"]
	if strings.TrimSpace(name) == "" || !hasStatus {
		return Agent{}, false
	}
	agent := Agent{
		ID:          m.Data["id"],
		Name:        name,
		Type:        AgentKind(m.Data["type"]),
		Status:      AgentStatus(status),
		CurrentTask: m.Data["currentTask"],
		LastAction:  m.Data["lastAction"],
	}
	if v, ok := m.Data["tools"]; ok {
		agent.Tools = splitTools(v)
	}
	return agent, true
}

func splitTools(raw string) []string {
	var tools []string
	for _, tool := range strings.Split(raw, ",") {
		if tool = strings.TrimSpace(tool); tool != "" {
			tools = append(tools, tool)
		}
	}
	return tools
}

func (m PushMessage) Result() (Result, bool) {
	kind, hasType := m.Data["type"]
	content, hasContent := m.Data["content"]
	if !hasType || !hasContent {
		return Result{}, false
	}
	return Result{Type: ResultType(kind), Content: content, Alt: m.Data["alt"]}, true
}

// UnmarshalJSON accepts loosely typed data maps: numbers and booleans are
// kept in their JSON text form, nested values and nulls are dropped.
func (m *PushMessage) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type string                     `json:"type"`
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Type = raw.Type
	m.Data = make(map[string]string, len(raw.Data))
	for key, value := range raw.Data {
		if text, ok := scalarString(value); ok {
			m.Data[key] = text
		}
	}
	return nil
}

func scalarString(value json.RawMessage) (string, bool) {
	var decoded any
	if err := json.Unmarshal(value, &decoded); err != nil {
		return "", false
	}
	switch v := decoded.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			text, ok := item.(string)
			if !ok {
				return "", false
			}
			items = append(items, text)
		}
		return strings.Join(items, ","), true
	default:
		return "", false
	}
}

func (m PushMessage) Field(key string) string {
	if m.Data == nil {
		return ""
	}
	return m.Data[key]
}
