package hub

import "encoding/json"

// ClientMessage is everything a websocket client may send. Type selects the
// fields that matter: "chat" uses the conversation fields, "ping" none.
type ClientMessage struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	ConstructID string `json:"construct_id,omitempty"`
	ThreadID    string `json:"thread_id,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ChatRequest is the chat payload handed to the ChatFunc.
type ChatRequest struct {
	UserID      string
	ConstructID string
	ThreadID    string
	Mode        string
	Message     string
}

// ChatReply is what the ChatFunc returns for a successful exchange.
type ChatReply struct {
	RequestID string
	Text      string
	Route     string
	Mode      string
	Metrics   any
}

type ResponseMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Route     string `json:"route"`
	Mode      string `json:"mode,omitempty"`
	Metrics   any    `json:"metrics,omitempty"`
}

type SeatInfo struct {
	Seat   string `json:"seat"`
	Model  string `json:"model"`
	Role   string `json:"role,omitempty"`
	Active bool   `json:"active"`
}

type WelcomeMessage struct {
	Type     string     `json:"type"`
	ClientID string     `json:"client_id"`
	Seats    []SeatInfo `json:"seats"`
}

type SeatsMessage struct {
	Type  string     `json:"type"`
	Seats []SeatInfo `json:"seats"`
}

type EventMessage struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ts    int64           `json:"ts"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}
