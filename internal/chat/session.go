package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

// UsernamePrompt is the first line sent on every connection.
const UsernamePrompt = "Enter your username:"

// errNoUsername indicates the client closed the stream before naming itself.
var errNoUsername = errors.New("connection closed before username was sent")

// Conn is a line-framed client connection.
type Conn interface {
	LineReader
	ID() string
	WriteLine(line string) error
	Close() error
}

// HandleConn drives one connection: it negotiates a username, registers with
// the room, relays inbound lines as chat messages and announces the departure
// once the connection ends. The connection is closed before HandleConn
// returns. Errors during username negotiation are returned; a failing read
// after a successful join simply ends the session.
func HandleConn(ctx context.Context, room *Room, conn Conn, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}

	s := &session{
		ctx:    ctx,
		room:   room,
		conn:   conn,
		logger: logger,
	}
	defer s.cleanupSession()

	err := s.run()
	if errors.Is(err, errNoUsername) {
		return nil
	}
	return err
}

type session struct {
	ctx    context.Context
	room   *Room
	conn   Conn
	logger *log.Logger

	peer    *Peer
	mailbox *Mailbox

	relay   sync.WaitGroup
	cleanup sync.Once
}

func (s *session) run() error {
	peer, err := s.awaitUsername()
	if err != nil {
		return err
	}

	mailbox, err := s.room.Register(s.conn.ID(), peer.Username)
	if err != nil {
		return fmt.Errorf("register %q: %w", peer.Username, err)
	}
	s.peer = peer
	s.mailbox = mailbox

	s.startOutboundRelay()
	s.announce(UserJoined(peer.Username))
	s.readLoop()
	return nil
}

func (s *session) awaitUsername() (*Peer, error) {
	if err := s.conn.WriteLine(UsernamePrompt); err != nil {
		return nil, fmt.Errorf("send prompt: %w", err)
	}

	name, err := s.conn.ReadLine()
	if errors.Is(err, io.EOF) {
		return nil, errNoUsername
	}
	if err != nil {
		return nil, fmt.Errorf("read username: %w", err)
	}

	peer, err := NewPeer(name, s.conn)
	if err != nil {
		return nil, fmt.Errorf("username %q: %w", name, err)
	}
	return peer, nil
}

// startOutboundRelay drains the mailbox onto the connection. A failed write
// stops the relay and closes the mailbox; the room evicts the entry on its
// next delivery attempt.
func (s *session) startOutboundRelay() {
	s.relay.Add(1)
	go func() {
		defer s.relay.Done()
		defer s.mailbox.Close()

		for {
			select {
			case msg := <-s.mailbox.Receive():
				if err := s.conn.WriteLine(msg.String()); err != nil {
					s.logger.Printf("chat: failed to send message to %s: %v", s.conn.ID(), err)
					return
				}
			case <-s.mailbox.Done():
				return
			}
		}
	}()
}

func (s *session) readLoop() {
	id := s.conn.ID()
	for {
		line, err := s.peer.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Printf("chat: failed to read line from %s: %v", id, err)
			}
			return
		}
		s.room.Broadcast(s.ctx, id, Chat(s.peer.Username, line))
	}
}

func (s *session) announce(msg *Message) {
	s.logger.Printf("chat: %s", msg)
	s.room.Broadcast(s.ctx, s.conn.ID(), msg)
}

// cleanupSession unregisters before announcing the departure so the leaving
// connection is never a target of its own notice.
func (s *session) cleanupSession() {
	s.cleanup.Do(func() {
		if s.mailbox != nil {
			s.room.Unregister(s.conn.ID())
			s.announce(UserLeft(s.peer.Username))
		}
		_ = s.conn.Close()
		s.relay.Wait()
	})
}
