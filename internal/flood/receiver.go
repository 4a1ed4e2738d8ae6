package flood

import "encoding/json"

// ClientMessage is one inbound frame on the control channel (spec §7):
// {"type":"set_params","params":{...}} or {"type":"stop"}.
type ClientMessage struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// ServerMessage is anything the session may push back outside of a regular
// tick: session_created, ack, error, or a terminal status.
type ServerMessage struct {
	Type      string   `json:"type"`
	SessionID int64    `json:"session_id,omitempty"`
	Updated   []string `json:"updated,omitempty"`
	Params    *Params  `json:"params,omitempty"`
	Error     string   `json:"error,omitempty"`
	Status    Status   `json:"status,omitempty"`
}

// ReceiverTask is the single reader of a Session's inbound channel. It is
// the only writer to the Session's ParamStore and the only source of the
// stop signal, so param updates and stop can never race each other
// (spec §4.5).
type ReceiverTask struct {
	store  *ParamStore
	inbox  <-chan []byte
	outbox chan<- ServerMessage
	stop   chan struct{}
}

// NewReceiverTask wires a ReceiverTask to the session's param store and its
// raw inbound/outbound channels. stop is closed exactly once, the first
// time a "stop" message is seen (spec P9: stop wins over any later param
// update race).
func NewReceiverTask(store *ParamStore, inbox <-chan []byte, outbox chan<- ServerMessage) *ReceiverTask {
	return &ReceiverTask{store: store, inbox: inbox, outbox: outbox, stop: make(chan struct{})}
}

// Stopped is closed once a stop message has been received.
func (t *ReceiverTask) Stopped() <-chan struct{} {
	return t.stop
}

// Run processes inbound messages until inbox closes or stop fires. It
// never blocks sending to outbox: a full outbox drops the ack or error
// record rather than stalling the receiver (the
// protocol is best-effort for acks, authoritative for stop/param state).
func (t *ReceiverTask) Run() {
	for raw := range t.inbox {
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.trySend(ServerMessage{Type: "error", Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case "set_params":
			updated := t.store.Update(msg.Params)
			snap := t.store.Snapshot()
			t.trySend(ServerMessage{Type: "ack", Updated: updated, Params: &snap})
		case "stop":
			select {
			case <-t.stop:
			default:
				close(t.stop)
			}
			return
		default:
			t.trySend(ServerMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

func (t *ReceiverTask) trySend(msg ServerMessage) {
	select {
	case t.outbox <- msg:
	default:
	}
}
