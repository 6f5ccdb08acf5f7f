package chat

import (
	"errors"
	"unicode"
	"unicode/utf8"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 20
)

var (
	// ErrInvalidUsername reports a username outside 3-20 alphanumeric characters.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrUsernameTaken reports a username held by another registered connection.
	ErrUsernameTaken = errors.New("username already taken")
)

// LineReader is the inbound half of a client connection.
type LineReader interface {
	ReadLine() (string, error)
}

// Peer pairs a validated username with the connection it reads from.
type Peer struct {
	Username string

	lines LineReader
}

// NewPeer validates username and binds it to lines.
func NewPeer(username string, lines LineReader) (*Peer, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	return &Peer{Username: username, lines: lines}, nil
}

// ReadLine reads the next inbound line from the peer's connection.
func (p *Peer) ReadLine() (string, error) {
	return p.lines.ReadLine()
}

// ValidateUsername accepts names of 3 to 20 characters, each a letter or digit.
func ValidateUsername(name string) error {
	n := utf8.RuneCountInString(name)
	if n < minUsernameLength || n > maxUsernameLength {
		return ErrInvalidUsername
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return ErrInvalidUsername
		}
	}
	return nil
}
