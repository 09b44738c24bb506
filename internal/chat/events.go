package chat

import (
	"encoding/json"
	"fmt"

	"github.com/Vovarama1992/pixode-support/internal/realtime"
)

// SessionsTopic carries status changes of every session; agent dashboards
// watch it to recompute their queue and worklist.
const SessionsTopic = "sessions"

func SessionTopic(id string) string { return "session:" + id }

func messageEvent(m *Message) (realtime.Event, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return realtime.Event{}, err
	}
	return realtime.Event{
		Type:    realtime.EventMessageCreated,
		Topic:   SessionTopic(m.SessionID),
		Payload: payload,
	}, nil
}

func sessionEvent(s *Session) (realtime.Event, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return realtime.Event{}, err
	}
	return realtime.Event{
		Type:    realtime.EventSessionUpdated,
		Topic:   SessionsTopic,
		Payload: payload,
	}, nil
}

func DecodeMessage(ev realtime.Event) (Message, error) {
	var m Message
	if ev.Type != realtime.EventMessageCreated {
		return m, fmt.Errorf("unexpected event %q", ev.Type)
	}
	err := json.Unmarshal(ev.Payload, &m)
	return m, err
}

func DecodeSession(ev realtime.Event) (Session, error) {
	var s Session
	if ev.Type != realtime.EventSessionUpdated {
		return s, fmt.Errorf("unexpected event %q", ev.Type)
	}
	err := json.Unmarshal(ev.Payload, &s)
	return s, err
}
