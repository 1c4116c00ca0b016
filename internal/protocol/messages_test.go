package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageUserMessage(t *testing.T) {
	raw := []byte(`{"type":"user_message","session_id":"s1","message":"Which NDA fits a joint venture?","request_id":"r1"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	user, ok := msg.(UserMessage)
	if !ok {
		t.Fatalf("message type = %T, want UserMessage", msg)
	}
	if user.SessionID != "s1" || user.RequestID != "r1" {
		t.Fatalf("unexpected user message: %+v", user)
	}
}

func TestParseClientMessageUserMessageWithoutSession(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"user_message","message":"hello"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if user := msg.(UserMessage); user.SessionID != "" {
		t.Fatalf("SessionID = %q, want empty", user.SessionID)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"close"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.SessionID != "s1" || control.Action != ActionClose {
		t.Fatalf("unexpected client control: %+v", control)
	}
}

func TestParseClientMessageRejectsInvalidPayloads(t *testing.T) {
	cases := map[string]string{
		"blank message":  `{"type":"user_message","session_id":"s1","message":"  "}`,
		"unknown action": `{"type":"client_control","session_id":"s1","action":"stop"}`,
		"not json":       `{"type":`,
	}
	for name, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func BenchmarkParseClientMessageUserMessage(b *testing.B) {
	raw := []byte(`{"type":"user_message","session_id":"s1","message":"Which NDA should I use with a contractor?","request_id":"r7"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(UserMessage); !ok {
			b.Fatalf("message type = %T, want UserMessage", msg)
		}
	}
}
