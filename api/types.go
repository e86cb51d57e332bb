// types.go - Core API Types (Options, Requests, Responses, Metriken)
// Enthaelt: Options, DefaultOptions, GenerateRequest, GenerateResponse, DoneReason
package api

import (
	"encoding/json"
	"time"
)

// Options steuert das Sampling einer Generierung. Die Feldnamen und Defaults
// folgen den ueblichen Runner-Optionen; nicht gesetzte Felder (Zero Value)
// werden von DefaultOptions ueberschrieben.
type Options struct {
	Runner

	Seed             int      `json:"seed,omitempty"`
	NumPredict       int      `json:"num_predict,omitempty"`
	TopK             int      `json:"top_k,omitempty"`
	TopP             float32  `json:"top_p,omitempty"`
	MinP             float32  `json:"min_p,omitempty"`
	TypicalP         float32  `json:"typical_p,omitempty"`
	RepeatLastN      int      `json:"repeat_last_n,omitempty"`
	Temperature      float32  `json:"temperature,omitempty"`
	RepeatPenalty    float32  `json:"repeat_penalty,omitempty"`
	PresencePenalty  float32  `json:"presence_penalty,omitempty"`
	FrequencyPenalty float32  `json:"frequency_penalty,omitempty"`
	Mirostat         int      `json:"mirostat,omitempty"`
	MirostatTau      float32  `json:"mirostat_tau,omitempty"`
	MirostatEta      float32  `json:"mirostat_eta,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

// Runner options which must be set when the model is loaded into memory
type Runner struct {
	NumCtx    int `json:"num_ctx,omitempty"`
	NumThread int `json:"num_thread,omitempty"`
}

// DefaultOptions ist der Default-Satz an Optionen fuer [GenerateRequest];
// diese Werte gelten solange der Aufrufer nichts anderes setzt.
func DefaultOptions() Options {
	return Options{
		NumPredict: -1,

		Temperature:      0.8,
		TopK:             40,
		TopP:             0.9,
		TypicalP:         1.0,
		MinP:             0.0,
		RepeatLastN:      64,
		RepeatPenalty:    1.1,
		PresencePenalty:  0.0,
		FrequencyPenalty: 0.0,
		MirostatTau:      5.0,
		MirostatEta:      0.1,
		Seed:             -1,

		Runner: Runner{
			NumCtx:    2048,
			NumThread: 0, // let the runtime decide
		},
	}
}

// ImageData traegt die Roh-Bytes eines Bildes fuer multimodale Anfragen.
type ImageData []byte

// GenerateRequest beschreibt eine Generierungs-Anfrage an eine Session.
type GenerateRequest struct {
	// Prompt is the textual prompt. It may contain [img-N] placeholders
	// that refer to entries of Images by index.
	Prompt string `json:"prompt"`

	// Images lists raw image payloads referenced by [img-N] placeholders.
	Images []ImageData `json:"images,omitempty"`

	// Format constrains the output: either the literal "json" or a JSON
	// schema that is compiled to a grammar before generation starts.
	Format json.RawMessage `json:"format,omitempty"`

	// Grammar is a raw GBNF grammar. Mutually exclusive with Format and Tools.
	Grammar string `json:"grammar,omitempty"`

	// Tools restricts the output to a tool-call envelope naming one of the
	// given tools. AllowMultipleCalls selects the tool_calls array envelope.
	Tools              Tools `json:"tools,omitempty"`
	AllowMultipleCalls bool  `json:"allow_multiple_calls,omitempty"`

	// Options lists sampling options, e.g. temperature.
	Options Options `json:"options"`
}

// DoneReason gibt an warum die Generierung beendet wurde
type DoneReason int

const (
	DoneReasonStop    DoneReason = iota // Natuerliches Ende (EOG-Token)
	DoneReasonLength                    // Laengenlimit erreicht
	DoneReasonAborted                   // Kooperativ abgebrochen
	DoneReasonFailed                    // Engine-Fehler waehrend der Generierung
)

func (d DoneReason) String() string {
	switch d {
	case DoneReasonStop:
		return "stop"
	case DoneReasonLength:
		return "length"
	case DoneReasonAborted:
		return "aborted"
	case DoneReasonFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// GenerateResponse ist die Antwort einer Generierung. Waehrend des Streamings
// enthaelt Content das jeweils neue Textstueck; die letzte Antwort hat Done
// gesetzt und traegt Statistiken.
type GenerateResponse struct {
	Content    string     `json:"content"`
	Done       bool       `json:"done"`
	DoneReason DoneReason `json:"done_reason,omitempty"`

	PromptEvalCount    int           `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration time.Duration `json:"prompt_eval_duration,omitempty"`
	EvalCount          int           `json:"eval_count,omitempty"`
	EvalDuration       time.Duration `json:"eval_duration,omitempty"`
}
