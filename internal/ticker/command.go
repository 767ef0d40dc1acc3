package ticker

import (
	"sort"
	"sync"

	"kitefeed/internal/models"
)

// Wire action names for control messages.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionSetMode     = "mode"
)

type commandType int

const (
	commandSubscribe commandType = iota
	commandUnsubscribe
	commandSetMode
)

// command is an internal control request flowing from handles into the
// active connection's command loop.
type command struct {
	kind   commandType
	mode   models.Mode
	tokens []uint32
}

// request is the JSON control message written to the socket.
type request struct {
	Action string      `json:"a"`
	Value  interface{} `json:"v"`
}

// wireRequest serializes the command for the socket.
func (c command) wireRequest() request {
	switch c.kind {
	case commandSubscribe:
		return request{Action: actionSubscribe, Value: c.tokens}
	case commandUnsubscribe:
		return request{Action: actionUnsubscribe, Value: c.tokens}
	default:
		return request{Action: actionSetMode, Value: []interface{}{c.mode.String(), c.tokens}}
	}
}

// subscriptions tracks subscribed tokens and their requested mode. A
// nil mode means subscribed with the server default level. The table
// survives disconnects; only an explicit unsubscribe removes entries.
type subscriptions struct {
	mu    sync.RWMutex
	modes map[uint32]*models.Mode
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		modes: make(map[uint32]*models.Mode),
	}
}

// apply mutates the table according to the command. Subscribing a token
// that already carries an explicit mode keeps that mode.
func (s *subscriptions) apply(cmd command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.kind {
	case commandSubscribe:
		for _, token := range cmd.tokens {
			if _, ok := s.modes[token]; !ok {
				s.modes[token] = nil
			}
		}
	case commandUnsubscribe:
		for _, token := range cmd.tokens {
			delete(s.modes, token)
		}
	case commandSetMode:
		mode := cmd.mode
		for _, token := range cmd.tokens {
			m := mode
			s.modes[token] = &m
		}
	}
}

// tokens returns all subscribed tokens in ascending order.
func (s *subscriptions) tokens() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]uint32, 0, len(s.modes))
	for token := range s.modes {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	return tokens
}

func (s *subscriptions) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.modes)
}

// replayCommands builds the commands that restore the current table on
// a fresh connection: one subscribe covering every token, then one mode
// command per distinct explicit mode. Tokens without an explicit mode
// are left at the server default.
func (s *subscriptions) replayCommands() []command {
	s.mu.RLock()

	tokens := make([]uint32, 0, len(s.modes))
	groups := make(map[models.Mode][]uint32)
	for token, mode := range s.modes {
		tokens = append(tokens, token)
		if mode != nil {
			groups[*mode] = append(groups[*mode], token)
		}
	}
	s.mu.RUnlock()

	if len(tokens) == 0 {
		return nil
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	commands := []command{{kind: commandSubscribe, tokens: tokens}}

	modes := make([]models.Mode, 0, len(groups))
	for mode := range groups {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })

	for _, mode := range modes {
		group := groups[mode]
		sort.Slice(group, func(i, j int) bool { return group[i] < group[j] })
		commands = append(commands, command{kind: commandSetMode, mode: mode, tokens: group})
	}
	return commands
}
