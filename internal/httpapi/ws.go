package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/ragent/internal/controller"
	"github.com/ent0n29/ragent/internal/observability"
	"github.com/ent0n29/ragent/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsIdleTimeout  = 120 * time.Second
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger := observability.LoggerFrom(ctx, s.logger)

	outbound := make(chan any, 64)
	inbound := make(chan any, 16)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					logger.Debug("websocket write failed", "error", err)
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.countWS("outbound", t)
				}
			}
		}
	}()

	send := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		current := sessionID
		for msg := range inbound {
			switch m := msg.(type) {
			case protocol.UserMessage:
				current = s.runWSTurn(ctx, m, current, send)
			case protocol.ClientControl:
				id := firstNonEmpty(m.SessionID, current)
				if err := s.chat.Close(ctx, id); err != nil {
					send(errorEvent(id, "controller", err))
					continue
				}
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: id, Code: "session_closed"})
			}
		}
	}()

	send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "connected"})

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.countWS("inbound", t)
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	close(inbound)
	<-workerDone
	cancel()
	<-writerDone
}

// runWSTurn submits one message and streams tool activity while the turn
// runs. It returns the session the connection is now bound to.
func (s *Server) runWSTurn(ctx context.Context, m protocol.UserMessage, current string, send func(any)) string {
	id := firstNonEmpty(m.SessionID, current)
	turnCtx := observability.WithObserver(ctx, observability.FuncObserver(func(_ context.Context, ev observability.Event) {
		if activity, ok := toolActivity(ev); ok {
			send(activity)
		}
	}))

	res, err := s.chat.SubmitTurn(turnCtx, controller.SubmitRequest{
		SessionID: id,
		Message:   m.Message,
		RequestID: m.RequestID,
	})
	if err != nil {
		send(errorEvent(firstNonEmpty(res.SessionID, id), "controller", err))
		return id
	}
	send(protocol.AssistantReply{
		Type:      protocol.TypeAssistantReply,
		SessionID: res.SessionID,
		RequestID: m.RequestID,
		Text:      res.Reply,
		Replayed:  res.Replayed,
		Degraded:  res.Degraded,
	})
	return res.SessionID
}

func toolActivity(ev observability.Event) (protocol.ToolActivity, bool) {
	var phase string
	switch ev.Type {
	case observability.EventToolInvoked:
		phase = "started"
	case observability.EventToolResult:
		phase = "completed"
	case observability.EventToolFailed:
		phase = "failed"
	default:
		return protocol.ToolActivity{}, false
	}
	out := protocol.ToolActivity{Type: protocol.TypeToolActivity, Phase: phase}
	out.SessionID, _ = ev.Data["session_id"].(string)
	out.Tool, _ = ev.Data["tool"].(string)
	out.Query, _ = ev.Data["query"].(string)
	out.Error, _ = ev.Data["error"].(string)
	out.HitCount, _ = ev.Data["hits"].(int)
	out.Iteration, _ = ev.Data["iteration"].(int)
	return out, true
}

func errorEvent(sessionID, source string, err error) protocol.ErrorEvent {
	status, code := statusFor(err)
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: status >= http.StatusInternalServerError || status == http.StatusRequestTimeout,
		Detail:    err.Error(),
	}
}

func (s *Server) countWS(direction string, t protocol.MessageType) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ToolActivity:
		return m.Type, true
	case protocol.AssistantReply:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
