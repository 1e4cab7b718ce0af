package relay

import (
	"encoding/json"
	"fmt"
)

// Event names carried in Frame.Event
const (
	EventJoinRoom      = "joinRoom"
	EventChatMessage   = "chatMessage"
	EventGuessLetter   = "guessLetter"
	EventSystemMessage = "systemMessage"
	EventUpdatePlayers = "updatePlayers"
	EventUpdateGame    = "updateGame"
)

// Frame is one websocket text message
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoom is sent by a player entering a room
type JoinRoom struct {
	Name string `json:"name"`
	Room string `json:"room"`
}

// ChatIn is a chat line sent by a player
type ChatIn struct {
	Msg string `json:"msg"`
}

// GuessLetter is a letter guess sent by a player
type GuessLetter struct {
	Letter string `json:"letter"`
}

// ChatOut is a chat line relayed to the room
type ChatOut struct {
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

// GameState is the room's hangman state
type GameState struct {
	Word           string   `json:"word"`
	GuessedLetters []string `json:"guessedLetters"`
	WrongGuesses   int      `json:"wrongGuesses"`
}

// Encode builds the wire form of event with payload data
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// Decode parses a wire frame
func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("frame has no event")
	}
	return f, nil
}
