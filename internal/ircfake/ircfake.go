// Package ircfake implements a small in-process IRC server which the irctest
// packages use as a stand-in for a real server under test.
//
// It only knows the commands the conformance scenarios exercise. Commands are
// looked up in a table and handled one at a time under a single lock, so
// replies for one input line are always delivered in order.
package ircfake

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/stapelberg/glog"
	"gopkg.in/sorcix/irc.v2"
)

// Numerics which the irc package does not define (or spells differently).
const (
	errAlreadyRegistered = "462"
	rplNoTopic           = "331"
	rplTopic             = "332"
)

// lcName is a lower-case nickname or channel name, used as map key.
type lcName string

func toLower(name string) lcName {
	r := strings.NewReplacer("[", "{", "]", "}", "\\", "|")
	return lcName(r.Replace(strings.ToLower(name)))
}

type session struct {
	conn net.Conn
	enc  *irc.Encoder
	// out serializes writes, which happen from other sessions' goroutines.
	out sync.Mutex

	pass       string
	nick       string
	user       string
	realname   string
	registered bool
	quit       bool

	channels  map[lcName]bool
	invitedTo map[lcName]bool
	prefix    irc.Prefix
}

func (s *session) updatePrefix() {
	host, _, _ := net.SplitHostPort(s.conn.RemoteAddr().String())
	s.prefix = irc.Prefix{Name: s.nick, User: s.user, Host: host}
}

// target is how replies address the session: its nick, or "*" before NICK.
func (s *session) target() string {
	if s.nick == "" {
		return "*"
	}
	return s.nick
}

type member struct {
	op bool
}

type channel struct {
	name    string
	topic   string
	members map[lcName]*member
	modes   ['z']bool
}

type command struct {
	Func      func(*Server, *session, *irc.Message)
	MinParams int

	// Unregistered commands may be sent before registration completes.
	Unregistered bool
}

var commands = make(map[string]*command)

// Server is safe for concurrent use.
type Server struct {
	// Password is the registration password expected in PASS. If empty, any
	// password (including none) is accepted.
	Password string

	prefix *irc.Prefix

	mu       sync.Mutex
	sessions map[*session]bool
	nicks    map[lcName]*session
	channels map[lcName]*channel

	ln   net.Listener
	wg   sync.WaitGroup
	once sync.Once
}

// NewServer returns a server which identifies itself as servername.
func NewServer(servername, password string) *Server {
	return &Server{
		Password: password,
		prefix:   &irc.Prefix{Name: servername},
		sessions: make(map[*session]bool),
		nicks:    make(map[lcName]*session),
		channels: make(map[lcName]*channel),
	}
}

// Listen starts accepting connections on addr (e.g. "127.0.0.1:0") in the
// background and returns the address actually listened on.
func (srv *Server) Listen(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	srv.ln = ln
	srv.wg.Add(1)
	go srv.serve(ln)
	return ln.Addr().String(), nil
}

func (srv *Server) serve(ln net.Listener) {
	defer srv.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			glog.V(1).Infof("ircfake: accept: %v", err)
			return
		}
		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			srv.handleConn(conn)
		}()
	}
}

// Close stops listening, disconnects all sessions and waits for their
// goroutines to finish.
func (srv *Server) Close() error {
	var err error
	srv.once.Do(func() {
		if srv.ln != nil {
			err = srv.ln.Close()
		}
		srv.mu.Lock()
		for s := range srv.sessions {
			s.conn.Close()
		}
		srv.mu.Unlock()
		srv.wg.Wait()
	})
	return err
}

// NumSessions returns the number of currently connected sessions.
func (srv *Server) NumSessions() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

func (srv *Server) handleConn(conn net.Conn) {
	s := &session{
		conn:      conn,
		enc:       irc.NewEncoder(conn),
		channels:  make(map[lcName]bool),
		invitedTo: make(map[lcName]bool),
	}
	srv.mu.Lock()
	srv.sessions[s] = true
	srv.mu.Unlock()

	defer func() {
		conn.Close()
		srv.mu.Lock()
		srv.deleteSessionLocked(s)
		srv.mu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		srv.processLine(s, line)
		if s.quit {
			return
		}
	}
}

// processLine handles one line of client input.
func (srv *Server) processLine(s *session, line string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	msg := irc.ParseMessage(line)
	if msg == nil {
		return
	}
	glog.V(2).Infof("ircfake: %s -> %q", s.target(), line)

	name := strings.ToUpper(msg.Command)
	cmd, ok := commands[name]
	if !ok {
		srv.reply(s, irc.ERR_UNKNOWNCOMMAND, name, "Unknown command")
		return
	}
	if !s.registered && !cmd.Unregistered {
		srv.reply(s, irc.ERR_NOTREGISTERED, "You have not registered")
		return
	}
	if len(msg.Params) < cmd.MinParams {
		srv.reply(s, irc.ERR_NEEDMOREPARAMS, name, "Not enough parameters")
		return
	}
	cmd.Func(srv, s, msg)
}

func (srv *Server) deleteSessionLocked(s *session) {
	for name := range s.channels {
		if c, ok := srv.channels[name]; ok {
			delete(c.members, toLower(s.nick))
			srv.maybeDeleteChannelLocked(c)
		}
	}
	if s.nick != "" && srv.nicks[toLower(s.nick)] == s {
		delete(srv.nicks, toLower(s.nick))
	}
	delete(srv.sessions, s)
}

func (srv *Server) maybeDeleteChannelLocked(c *channel) {
	if len(c.members) > 0 {
		return
	}
	lc := toLower(c.name)
	delete(srv.channels, lc)
	for s := range srv.sessions {
		delete(s.invitedTo, lc)
	}
}

// send writes msg to s. Errors are ignored: a broken connection is noticed
// (and cleaned up) by the session's own read loop.
func (srv *Server) send(s *session, msg *irc.Message) {
	s.out.Lock()
	defer s.out.Unlock()
	glog.V(2).Infof("ircfake: %s <- %q", s.target(), msg.String())
	if err := s.enc.Encode(msg); err != nil {
		glog.V(1).Infof("ircfake: writing to %s: %v", s.target(), err)
	}
}

// reply sends a numeric (or command) from the server to s, addressed to the
// session's nickname.
func (srv *Server) reply(s *session, code string, params ...string) {
	srv.send(s, &irc.Message{
		Prefix:  srv.prefix,
		Command: code,
		Params:  append([]string{s.target()}, params...),
	})
}

// sendChannel sends msg to every member of c, optionally skipping one session.
func (srv *Server) sendChannel(c *channel, except *session, msg *irc.Message) {
	for nick := range c.members {
		member := srv.nicks[nick]
		if member == nil || member == except {
			continue
		}
		srv.send(member, msg)
	}
}

func (srv *Server) String() string {
	if srv.ln == nil {
		return fmt.Sprintf("ircfake(%s, not listening)", srv.prefix.Name)
	}
	return fmt.Sprintf("ircfake(%s, %s)", srv.prefix.Name, srv.ln.Addr())
}
