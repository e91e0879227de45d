package protocol

import (
	"encoding/json"
	"strings"

	"github.com/herohan/thermal-stream-server/pkg/types"
)

// Command is a parsed client text command on the message socket.
type Command int

const (
	CmdUnknown Command = iota
	CmdPing
	CmdGetInfo
)

// ParseCommand maps an inbound text message to a command. Commands are
// case-insensitive; surrounding whitespace is ignored. Anything unrecognized
// is CmdUnknown and must be ignored by the caller, not treated as an error.
func ParseCommand(text string) Command {
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case "PING":
		return CmdPing
	case "GET_INFO":
		return CmdGetInfo
	}
	return CmdUnknown
}

// Welcome is sent once right after the websocket handshake so the client can
// configure its decoder before the first binary frame arrives.
type Welcome struct {
	Type          string `json:"type"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Format        string `json:"format"`
	BytesPerFrame int    `json:"bytesPerFrame"`
}

// Pong answers a PING command.
type Pong struct {
	Type string `json:"type"`
}

// Info answers a GET_INFO command with the live server state.
type Info struct {
	Type    string `json:"type"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
	Clients int    `json:"clients"`
	Port    int    `json:"port"`
}

// Shutdown is broadcast to every open socket session before server stop.
type Shutdown struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WelcomeMessage renders the welcome control message for a format.
func WelcomeMessage(f types.Format) []byte {
	return mustJSON(Welcome{
		Type:          "welcome",
		Width:         f.Width,
		Height:        f.Height,
		Format:        f.PixelFormat,
		BytesPerFrame: f.BytesPerFrame(),
	})
}

// PongMessage renders the pong control message.
func PongMessage() []byte {
	return mustJSON(Pong{Type: "pong"})
}

// InfoMessage renders the info control message.
func InfoMessage(f types.Format, clients, port int) []byte {
	return mustJSON(Info{
		Type:    "info",
		Width:   f.Width,
		Height:  f.Height,
		Format:  f.PixelFormat,
		Clients: clients,
		Port:    port,
	})
}

// ShutdownMessage renders the shutdown notice.
func ShutdownMessage(message string) []byte {
	return mustJSON(Shutdown{Type: "shutdown", Message: message})
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All control types marshal unconditionally.
		panic(err)
	}
	return data
}
