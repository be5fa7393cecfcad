package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Provider message types. The streaming endpoint speaks JSON text messages
// downstream and accepts raw little-endian s16 PCM binary frames upstream.
const (
	msgBegin     = "Begin"
	msgTurn      = "Turn"
	msgError     = "Error"
	msgTerminate = "Terminate"
)

// serverMessage is the JSON shape of every downstream provider message.
type serverMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	EndOfTurn  bool   `json:"end_of_turn,omitempty"`
	Error      string `json:"error,omitempty"`
}

// parseServerMessage decodes a downstream text message. A decode failure or
// a missing type is a protocol error; the caller logs it and carries on.
func parseServerMessage(data []byte) (serverMessage, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return serverMessage{}, &ProtocolError{Detail: fmt.Sprintf("malformed message: %v", err)}
	}
	if msg.Type == "" {
		return serverMessage{}, &ProtocolError{Detail: "message without type field"}
	}
	return msg, nil
}

// terminateMessage is the clean-shutdown request sent before closing the
// socket. Closes without it are treated by the provider as unexpected.
func terminateMessage() []byte {
	raw, _ := json.Marshal(map[string]string{"type": msgTerminate})
	return raw
}

// sessionURL builds the streaming endpoint URL with the negotiated audio
// parameters as query values.
func sessionURL(endpoint string, sampleRate int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("transport: parse endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("encoding", "pcm_s16le")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
