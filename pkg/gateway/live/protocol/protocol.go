// Package protocol defines the live WebSocket event frames. Event names and
// payload keys are fixed; deployed clients depend on them.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound event names.
const (
	EventAuthenticate        = "authenticate"
	EventStartConversation   = "start_conversation"
	EventStopConversation    = "stop_conversation"
	EventGetConversationTime = "get_conversation_time"
	EventGetSessionInfo      = "get_session_info"
	EventSetConversationType = "set_conversation_type"
	EventTextMessage         = "text_message"
)

// Outbound event names.
const (
	EventAuthSuccess            = "auth_success"
	EventAuthError              = "auth_error"
	EventConversationStarted    = "conversation_started"
	EventConversationError      = "conversation_error"
	EventConversationStopped    = "conversation_stopped"
	EventConversationTimeUpdate = "conversation_time_update"
	EventSessionExpired         = "session_expired"
	EventSessionInfo            = "session_info"
	EventAIResponse             = "ai_response"
	EventAIAudio                = "ai_audio"
	EventStreamSetup            = "stream_setup"
	EventStreamReady            = "stream_ready"
	EventStreamError            = "stream_error"
	EventStreamFallback         = "stream_fallback"
	EventError                  = "error"
)

// Conversation modes.
const (
	ModeAudio = "audio"
	ModeVideo = "video"
)

type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

// Frame is the wire envelope: {"event": "...", "data": {...}}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Authenticate struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

type StartConversation struct{}

type StopConversation struct{}

type GetConversationTime struct{}

type GetSessionInfo struct{}

type SetConversationType struct {
	Type string `json:"type"`
}

type TextMessage struct {
	Text string `json:"text"`
}

// DecodeClientFrame parses one inbound frame into its typed event struct.
func DecodeClientFrame(data []byte) (any, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	event := strings.TrimSpace(frame.Event)
	if event == "" {
		return nil, badFrame("missing event", "event")
	}

	payload := frame.Data
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	switch event {
	case EventAuthenticate:
		var msg Authenticate
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, badFrame("invalid authenticate payload", "")
		}
		if strings.TrimSpace(msg.Identity) == "" {
			return nil, badFrame("authenticate.identity is required", "identity")
		}
		if msg.Secret == "" {
			return nil, badFrame("authenticate.secret is required", "secret")
		}
		return msg, nil
	case EventStartConversation:
		return StartConversation{}, nil
	case EventStopConversation:
		return StopConversation{}, nil
	case EventGetConversationTime:
		return GetConversationTime{}, nil
	case EventGetSessionInfo:
		return GetSessionInfo{}, nil
	case EventSetConversationType:
		var msg SetConversationType
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, badFrame("invalid set_conversation_type payload", "")
		}
		switch msg.Type {
		case ModeAudio, ModeVideo:
		default:
			return nil, badFrame("set_conversation_type.type must be audio or video", "type")
		}
		return msg, nil
	case EventTextMessage:
		var msg TextMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, badFrame("invalid text_message payload", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badFrame("text_message.text is required", "text")
		}
		return msg, nil
	default:
		return nil, badFrame("unsupported event", "event")
	}
}

// Outbound payloads. Time fields are millisecond values.

type AuthSuccess struct {
	SessionID     string `json:"sessionId"`
	ExpiresAt     int64  `json:"expiresAt"`
	TimeRemaining int64  `json:"timeRemaining"`
}

type AuthError struct {
	Message string `json:"message"`
}

type ConversationStarted struct {
	SessionID     string `json:"sessionId"`
	MessageCount  int    `json:"messageCount"`
	TimeRemaining int64  `json:"timeRemaining"`
}

type ConversationError struct {
	Message string `json:"message"`
}

type ConversationStopped struct {
	Success bool `json:"success"`
}

type ConversationTimeUpdate struct {
	TimeRemaining int64 `json:"timeRemaining"`
	IsActive      bool  `json:"isActive"`
}

type SessionExpired struct {
	Message       string `json:"message"`
	TimeRemaining int64  `json:"timeRemaining"`
}

type SessionInfo struct {
	SessionID     string `json:"sessionId"`
	MessageCount  int    `json:"messageCount"`
	TimeRemaining int64  `json:"timeRemaining"`
}

type AIResponse struct {
	Text          string `json:"text"`
	TimeRemaining int64  `json:"timeRemaining"`
}

type AIAudio struct {
	AudioBase64 string `json:"audioBase64"`
}

type StreamSetup struct {
	StreamID  string `json:"streamId"`
	SourceRef string `json:"sourceRef"`
}

type StreamError struct {
	Message string `json:"message"`
}

type StreamFallback struct {
	Message string `json:"message"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// EncodeFrame marshals an outbound event and payload into the wire envelope.
func EncodeFrame(event string, payload any) ([]byte, error) {
	frame := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		frame.Data = data
	}
	return json.Marshal(frame)
}
