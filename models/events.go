package models

import (
	"encoding/json"
	"fmt"
)

// ServerEvent is the tagged union over the realtime API's inbound event
// vocabulary. Each inbound frame parses to exactly one variant; types the
// router does not know become UnknownEvent and are ignored.
type ServerEvent interface {
	EventType() string
}

type SessionCreatedEvent struct{}

func (e SessionCreatedEvent) EventType() string { return "session.created" }

type SessionUpdatedEvent struct{}

func (e SessionUpdatedEvent) EventType() string { return "session.updated" }

// TranscriptionDeltaEvent carries incremental user speech transcription.
type TranscriptionDeltaEvent struct {
	Delta string
}

func (e TranscriptionDeltaEvent) EventType() string {
	return "conversation.item.input_audio_transcription.delta"
}

// TranscriptionCompletedEvent carries the authoritative final user transcript.
type TranscriptionCompletedEvent struct {
	Transcript string
}

func (e TranscriptionCompletedEvent) EventType() string {
	return "conversation.item.input_audio_transcription.completed"
}

type ResponseTextDeltaEvent struct {
	Delta string
}

func (e ResponseTextDeltaEvent) EventType() string { return "response.text.delta" }

type ResponseTextDoneEvent struct {
	Text string
}

func (e ResponseTextDoneEvent) EventType() string { return "response.text.done" }

type AudioTranscriptDeltaEvent struct {
	Delta string
}

func (e AudioTranscriptDeltaEvent) EventType() string { return "response.audio_transcript.delta" }

type AudioTranscriptDoneEvent struct {
	Transcript string
}

func (e AudioTranscriptDoneEvent) EventType() string { return "response.audio_transcript.done" }

// AudioDeltaEvent carries a base64 PCM16 chunk of agent speech. Playback is
// the audio transport's concern; the core only relays it.
type AudioDeltaEvent struct {
	Delta string
}

func (e AudioDeltaEvent) EventType() string { return "response.audio.delta" }

type SpeechStartedEvent struct{}

func (e SpeechStartedEvent) EventType() string { return "input_audio_buffer.speech_started" }

type SpeechStoppedEvent struct{}

func (e SpeechStoppedEvent) EventType() string { return "input_audio_buffer.speech_stopped" }

type ResponseCreatedEvent struct{}

func (e ResponseCreatedEvent) EventType() string { return "response.created" }

// ResponseDoneEvent closes a response. Status may be "completed",
// "incomplete" or "failed"; output items may embed function calls.
type ResponseDoneEvent struct {
	Status        string
	StatusDetails ResponseStatusDetails
	Output        []ResponseOutputItem
}

func (e ResponseDoneEvent) EventType() string { return "response.done" }

type ResponseStatusDetails struct {
	Reason string        `json:"reason"`
	Error  *ServerDetail `json:"error"`
}

type ResponseOutputItem struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	CallID    string `json:"call_id"`
	Arguments string `json:"arguments"`
}

// FunctionCallDoneEvent signals that a tool invocation's arguments are
// complete and the call may be dispatched.
type FunctionCallDoneEvent struct {
	Name      string
	CallID    string
	Arguments string
}

func (e FunctionCallDoneEvent) EventType() string { return "response.function_call_arguments.done" }

// ToolCallsEvent is the batched tool-call variant some upstream
// configurations emit instead of function_call_arguments.done.
type ToolCallsEvent struct {
	Calls []ToolInvocation
}

func (e ToolCallsEvent) EventType() string { return "response.tool_calls" }

// ErrorEvent is a protocol error from the remote API. Not fatal to the
// session; it is surfaced to the transcript verbatim.
type ErrorEvent struct {
	Code    string
	Message string
}

func (e ErrorEvent) EventType() string { return "error" }

type ServerDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnknownEvent is any event type the core does not model.
type UnknownEvent struct {
	Type string
}

func (e UnknownEvent) EventType() string { return e.Type }

// serverEnvelope is the superset of fields across all inbound event types.
type serverEnvelope struct {
	Type       string        `json:"type"`
	Delta      string        `json:"delta"`
	Text       string        `json:"text"`
	Transcript string        `json:"transcript"`
	Name       string        `json:"name"`
	CallID     string        `json:"call_id"`
	Arguments  string        `json:"arguments"`
	Error      *ServerDetail `json:"error"`
	Response   *struct {
		Status        string                `json:"status"`
		StatusDetails ResponseStatusDetails `json:"status_details"`
		Output        []ResponseOutputItem  `json:"output"`
	} `json:"response"`
	ToolCalls []struct {
		ID       string `json:"id"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
		Arguments string `json:"arguments"`
	} `json:"tool_calls"`
}

// ParseServerEvent decodes one inbound frame into its typed variant.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var env serverEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode realtime event: %w", err)
	}

	switch env.Type {
	case "session.created":
		return SessionCreatedEvent{}, nil
	case "session.updated":
		return SessionUpdatedEvent{}, nil
	case "conversation.item.input_audio_transcription.delta":
		return TranscriptionDeltaEvent{Delta: env.Delta}, nil
	case "conversation.item.input_audio_transcription.completed",
		"conversation.item.input_audio_transcription.done":
		// The API has shipped both suffixes for the same event.
		return TranscriptionCompletedEvent{Transcript: env.Transcript}, nil
	case "response.text.delta":
		return ResponseTextDeltaEvent{Delta: env.Delta}, nil
	case "response.text.done":
		return ResponseTextDoneEvent{Text: env.Text}, nil
	case "response.audio_transcript.delta":
		return AudioTranscriptDeltaEvent{Delta: env.Delta}, nil
	case "response.audio_transcript.done":
		return AudioTranscriptDoneEvent{Transcript: env.Transcript}, nil
	case "response.audio.delta":
		return AudioDeltaEvent{Delta: env.Delta}, nil
	case "input_audio_buffer.speech_started":
		return SpeechStartedEvent{}, nil
	case "input_audio_buffer.speech_stopped":
		return SpeechStoppedEvent{}, nil
	case "response.created":
		return ResponseCreatedEvent{}, nil
	case "response.done":
		evt := ResponseDoneEvent{}
		if env.Response != nil {
			evt.Status = env.Response.Status
			evt.StatusDetails = env.Response.StatusDetails
			evt.Output = env.Response.Output
		}
		return evt, nil
	case "response.function_call_arguments.done":
		return FunctionCallDoneEvent{Name: env.Name, CallID: env.CallID, Arguments: env.Arguments}, nil
	case "response.tool_calls":
		evt := ToolCallsEvent{}
		for _, tc := range env.ToolCalls {
			evt.Calls = append(evt.Calls, ToolInvocation{
				CallID:    tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Arguments,
				Batched:   true,
			})
		}
		return evt, nil
	case "error":
		evt := ErrorEvent{}
		if env.Error != nil {
			evt.Code = env.Error.Code
			evt.Message = env.Error.Message
		}
		return evt, nil
	default:
		return UnknownEvent{Type: env.Type}, nil
	}
}

// ===== Outbound (client) events =====

// SessionUpdate configures the remote session. Sent exactly once per
// connection.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{Type: "session.update", Session: cfg}
}

// ResponseCreate asks the remote agent to generate (or continue generating)
// a response.
type ResponseCreate struct {
	Type     string          `json:"type"`
	Response *ResponseParams `json:"response,omitempty"`
}

type ResponseParams struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: "response.create"}
}

// FunctionCallOutput injects a tool result into the conversation via
// conversation.item.create.
type FunctionCallOutput struct {
	Type string                 `json:"type"`
	Item FunctionCallOutputItem `json:"item"`
}

type FunctionCallOutputItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// NewFunctionCallOutput serializes result and wraps it for the wire. The
// output field is a JSON string by protocol contract.
func NewFunctionCallOutput(callID string, result any) (FunctionCallOutput, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return FunctionCallOutput{}, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return FunctionCallOutput{
		Type: "conversation.item.create",
		Item: FunctionCallOutputItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: string(payload),
		},
	}, nil
}

// ToolCallOutput answers a call that arrived via response.tool_calls.
type ToolCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func NewToolCallOutput(callID string, result any) (ToolCallOutput, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return ToolCallOutput{}, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return ToolCallOutput{
		Type:   "response.tool_call_output",
		CallID: callID,
		Output: string(payload),
	}, nil
}
