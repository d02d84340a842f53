package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientFrame(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		want      any
		wantParam string
	}{
		{
			name: "authenticate",
			raw:  `{"event":"authenticate","data":{"identity":"u1@example.com","secret":"pw"}}`,
			want: Authenticate{Identity: "u1@example.com", Secret: "pw"},
		},
		{
			name:      "authenticate missing secret",
			raw:       `{"event":"authenticate","data":{"identity":"u1@example.com"}}`,
			wantParam: "secret",
		},
		{
			name: "start without data",
			raw:  `{"event":"start_conversation"}`,
			want: StartConversation{},
		},
		{
			name: "stop",
			raw:  `{"event":"stop_conversation","data":{}}`,
			want: StopConversation{},
		},
		{
			name: "get time",
			raw:  `{"event":"get_conversation_time"}`,
			want: GetConversationTime{},
		},
		{
			name: "get session info",
			raw:  `{"event":"get_session_info"}`,
			want: GetSessionInfo{},
		},
		{
			name: "set type video",
			raw:  `{"event":"set_conversation_type","data":{"type":"video"}}`,
			want: SetConversationType{Type: ModeVideo},
		},
		{
			name:      "set type invalid",
			raw:       `{"event":"set_conversation_type","data":{"type":"hologram"}}`,
			wantParam: "type",
		},
		{
			name: "text message",
			raw:  `{"event":"text_message","data":{"text":"hello"}}`,
			want: TextMessage{Text: "hello"},
		},
		{
			name:      "text message blank",
			raw:       `{"event":"text_message","data":{"text":"  "}}`,
			wantParam: "text",
		},
		{
			name:      "unknown event",
			raw:       `{"event":"upload_file","data":{}}`,
			wantParam: "event",
		},
		{
			name:      "missing event",
			raw:       `{"data":{}}`,
			wantParam: "event",
		},
		{
			name:      "not json",
			raw:       `not json`,
			wantParam: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeClientFrame([]byte(tc.raw))
			if tc.want != nil {
				if err != nil {
					t.Fatalf("DecodeClientFrame: %v", err)
				}
				if got != tc.want {
					t.Fatalf("decoded = %#v, want %#v", got, tc.want)
				}
				return
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("error = %v, want *DecodeError", err)
			}
			if decodeErr.Param != tc.wantParam {
				t.Fatalf("param = %q, want %q", decodeErr.Param, tc.wantParam)
			}
		})
	}
}

func TestEncodeFrameKeysAreCamelCase(t *testing.T) {
	raw, err := EncodeFrame(EventAuthSuccess, AuthSuccess{
		SessionID:     "sess_1",
		ExpiresAt:     1700000000000,
		TimeRemaining: 300000,
	})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	var decoded struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Event != "auth_success" {
		t.Fatalf("event = %q", decoded.Event)
	}
	for _, key := range []string{"sessionId", "expiresAt", "timeRemaining"} {
		if _, ok := decoded.Data[key]; !ok {
			t.Fatalf("key %q missing from %v", key, decoded.Data)
		}
	}
}

func TestEncodeFrameNoPayload(t *testing.T) {
	raw, err := EncodeFrame(EventStreamReady, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if string(raw) != `{"event":"stream_ready"}` {
		t.Fatalf("frame = %s", raw)
	}
}
