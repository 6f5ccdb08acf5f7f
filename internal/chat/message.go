package chat

import "fmt"

// Kind identifies which chat event a Message describes.
type Kind int

const (
	KindJoined Kind = iota + 1
	KindLeft
	KindChat
)

// Message is an immutable chat event. A single *Message is shared by every
// mailbox it is broadcast into.
type Message struct {
	kind    Kind
	text    string
	sender  string
	content string
}

// UserJoined builds the notice announcing that username entered the room.
func UserJoined(username string) *Message {
	return &Message{kind: KindJoined, text: fmt.Sprintf("%s has joined the chat", username)}
}

// UserLeft builds the notice announcing that username left the room.
func UserLeft(username string) *Message {
	return &Message{kind: KindLeft, text: fmt.Sprintf("%s has left the chat", username)}
}

// Chat builds a chat line. content is carried verbatim.
func Chat(sender, content string) *Message {
	return &Message{kind: KindChat, sender: sender, content: content}
}

func (m *Message) Kind() Kind { return m.kind }
func (m *Message) Sender() string { return m.sender }
func (m *Message) Content() string { return m.content }

// String renders the message as the single line sent to clients.
func (m *Message) String() string {
	switch m.kind {
	case KindJoined:
		return "[" + m.text + "]"
	case KindLeft:
		return "[" + m.text + " :(]"
	case KindChat:
		return m.sender + ": " + m.content
	default:
		return ""
	}
}
