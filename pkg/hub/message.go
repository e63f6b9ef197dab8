// Package hub fans pipeline snapshots out to websocket clients using a
// channel-based broadcast loop.
package hub

import "encoding/json"

// Message is one encoded payload for clients.
type Message struct {
	Data []byte
}

// NewJSONMessage encodes v as a message.
func NewJSONMessage(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Data: data}, nil
}
