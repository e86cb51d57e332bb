// types_tools.go - Tool Types fuer Function Calling
// Enthaelt: Tools, Tool, ToolFunction, ToolCall, ToolCallFunction
package api

import (
	"encoding/json"
)

type Tools []Tool

func (t Tools) String() string {
	bts, _ := json.Marshal(t)
	return string(bts)
}

// Tool beschreibt eine aufrufbare Funktion. Die Menge der Tools ist zur
// Grammatik-Kompilierung geschlossen: ein neues Tool erfordert eine neue
// Grammatik.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction beschreibt Name und Parameter-Schema einer Funktion. Das
// Parameter-Schema ist ein rohes JSON-Schema und wird bei der Grammatik-
// Synthese rekursiv uebersetzt.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall ist der Envelope den eine Tool-Grammatik erzwingt.
type ToolCall struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Function ToolCallFunction `json:"arguments"`
}

// ToolCallFunction haelt die Argumente eines Tool-Aufrufs als rohes JSON.
type ToolCallFunction struct {
	Raw json.RawMessage `json:"-"`
}

func (t ToolCallFunction) MarshalJSON() ([]byte, error) {
	if len(t.Raw) == 0 {
		return []byte("{}"), nil
	}
	return t.Raw, nil
}

func (t *ToolCallFunction) UnmarshalJSON(data []byte) error {
	t.Raw = append(t.Raw[:0], data...)
	return nil
}
