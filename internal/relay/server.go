package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxWrongGuesses = 6
	defaultName     = "Player"
	writeWait       = 10 * time.Second
	sendBuffer      = 32
)

// DefaultWords are the hangman words rooms cycle through
var DefaultWords = []string{"phishing", "gopher", "websocket", "hangman", "sandbox"}

// player is one websocket connection
type player struct {
	conn *websocket.Conn
	send chan []byte
	name string
	room *room
}

type room struct {
	name    string
	players map[*player]struct{}
	word    string
	guessed []string
	wrong   int
	round   int
}

// Server relays chat within rooms and runs a shared hangman game per room
type Server struct {
	upgrader websocket.Upgrader
	words    []string
	logger   *zap.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

// NewServer creates a relay. Empty words uses DefaultWords.
func NewServer(words []string, logger *zap.Logger) *Server {
	if len(words) == 0 {
		words = DefaultWords
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		words:  words,
		logger: logger,
		rooms:  make(map[string]*room),
	}
}

// ServeHTTP upgrades the request and serves one player until it disconnects
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	s.logger.Info("A user connected", zap.String("remote", r.RemoteAddr))

	p := &player{conn: conn, send: make(chan []byte, sendBuffer), name: defaultName}
	go s.writeLoop(p)
	s.readLoop(p)
}

func (s *Server) readLoop(p *player) {
	defer func() {
		s.leave(p)
		close(p.send)
		p.conn.Close()
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := Decode(data)
		if err != nil {
			s.logger.Debug("Dropping malformed frame", zap.Error(err))
			continue
		}
		if err := s.handle(p, f); err != nil {
			s.logger.Debug("Dropping frame", zap.String("event", f.Event), zap.Error(err))
		}
	}
}

func (s *Server) writeLoop(p *player) {
	for msg := range p.send {
		p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.logger.Debug("Write failed", zap.Error(err))
			p.conn.Close()
			// Keep draining so senders never block on a dead player.
			for range p.send {
			}
			return
		}
	}
}

func (s *Server) handle(p *player, f Frame) error {
	switch f.Event {
	case EventJoinRoom:
		var req JoinRoom
		if err := json.Unmarshal(f.Data, &req); err != nil {
			return fmt.Errorf("decode joinRoom: %w", err)
		}
		req.Name = strings.TrimSpace(req.Name)
		req.Room = strings.TrimSpace(req.Room)
		if req.Name == "" || req.Room == "" {
			return fmt.Errorf("joinRoom needs a name and a room")
		}
		s.join(p, req)

	case EventChatMessage:
		var req ChatIn
		if err := json.Unmarshal(f.Data, &req); err != nil {
			return fmt.Errorf("decode chatMessage: %w", err)
		}
		if strings.TrimSpace(req.Msg) == "" {
			return nil
		}
		s.chat(p, req.Msg)

	case EventGuessLetter:
		var req GuessLetter
		if err := json.Unmarshal(f.Data, &req); err != nil {
			return fmt.Errorf("decode guessLetter: %w", err)
		}
		s.guess(p, req.Letter)

	default:
		return fmt.Errorf("unknown event %q", f.Event)
	}
	return nil
}

func (s *Server) join(p *player, req JoinRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leaveLocked(p)

	r := s.rooms[req.Room]
	if r == nil {
		r = &room{name: req.Room, players: make(map[*player]struct{})}
		s.newRoundLocked(r)
		s.rooms[req.Room] = r
	}
	p.name = req.Name
	p.room = r
	r.players[p] = struct{}{}

	s.sendLocked(p, EventSystemMessage, fmt.Sprintf("Welcome, %s!", p.name))
	s.broadcastLocked(r, p, EventSystemMessage, fmt.Sprintf("%s joined the game", p.name))
	s.broadcastLocked(r, nil, EventUpdatePlayers, r.names())
	s.sendLocked(p, EventUpdateGame, r.state())
}

func (s *Server) chat(p *player, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.room == nil {
		return
	}
	s.broadcastLocked(p.room, nil, EventChatMessage, ChatOut{Name: p.name, Msg: msg})
}

func (s *Server) guess(p *player, letter string) {
	letter = strings.ToLower(strings.TrimSpace(letter))
	if len(letter) != 1 || letter[0] < 'a' || letter[0] > 'z' {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := p.room
	if r == nil || slices.Contains(r.guessed, letter) {
		return
	}
	r.guessed = append(r.guessed, letter)
	if !strings.Contains(r.word, letter) {
		r.wrong++
	}
	s.broadcastLocked(r, nil, EventUpdateGame, r.state())

	switch {
	case r.solved():
		s.broadcastLocked(r, nil, EventSystemMessage, fmt.Sprintf("%s guessed the word: %s", p.name, r.word))
		s.newRoundLocked(r)
		s.broadcastLocked(r, nil, EventUpdateGame, r.state())
	case r.wrong >= maxWrongGuesses:
		s.broadcastLocked(r, nil, EventSystemMessage, fmt.Sprintf("Out of guesses! The word was: %s", r.word))
		s.newRoundLocked(r)
		s.broadcastLocked(r, nil, EventUpdateGame, r.state())
	}
}

func (s *Server) leave(p *player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(p)
}

func (s *Server) leaveLocked(p *player) {
	r := p.room
	if r == nil {
		return
	}
	delete(r.players, p)
	p.room = nil

	if len(r.players) == 0 {
		delete(s.rooms, r.name)
		return
	}
	s.broadcastLocked(r, nil, EventSystemMessage, fmt.Sprintf("%s left the game", p.name))
	s.broadcastLocked(r, nil, EventUpdatePlayers, r.names())
}

func (s *Server) newRoundLocked(r *room) {
	r.word = s.words[r.round%len(s.words)]
	r.round++
	r.guessed = nil
	r.wrong = 0
}

// broadcastLocked sends to every player in r except skip
func (s *Server) broadcastLocked(r *room, skip *player, event string, data any) {
	for p := range r.players {
		if p != skip {
			s.sendLocked(p, event, data)
		}
	}
}

func (s *Server) sendLocked(p *player, event string, data any) {
	msg, err := Encode(event, data)
	if err != nil {
		s.logger.Warn("Encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case p.send <- msg:
	default:
		s.logger.Warn("Player send queue full, dropping frame", zap.String("player", p.name), zap.String("event", event))
	}
}

func (r *room) names() []string {
	names := make([]string, 0, len(r.players))
	for p := range r.players {
		names = append(names, p.name)
	}
	slices.Sort(names)
	return names
}

func (r *room) state() GameState {
	return GameState{
		Word:           r.word,
		GuessedLetters: append([]string{}, r.guessed...),
		WrongGuesses:   r.wrong,
	}
}

func (r *room) solved() bool {
	for _, c := range r.word {
		if !slices.Contains(r.guessed, string(c)) {
			return false
		}
	}
	return true
}
