package ircfake

import (
	"fmt"

	"gopkg.in/sorcix/irc.v2"
)

const (
	rplYourHost = "002"
	rplCreated  = "003"
	rplMyInfo   = "004"
)

func init() {
	commands["PASS"] = &command{
		Func:         (*Server).cmdPass,
		MinParams:    1,
		Unregistered: true,
	}
	commands["NICK"] = &command{
		Func:         (*Server).cmdNick,
		Unregistered: true,
	}
	commands["USER"] = &command{
		Func:         (*Server).cmdUser,
		MinParams:    4,
		Unregistered: true,
	}
	commands["QUIT"] = &command{
		Func:         (*Server).cmdQuit,
		Unregistered: true,
	}
}

func (srv *Server) cmdPass(s *session, msg *irc.Message) {
	if s.registered {
		srv.reply(s, errAlreadyRegistered, "You may not reregister")
		return
	}
	s.pass = msg.Params[0]
}

func (srv *Server) cmdNick(s *session, msg *irc.Message) {
	if len(msg.Params) < 1 || msg.Params[0] == "" {
		srv.reply(s, irc.ERR_NONICKNAMEGIVEN, "No nickname given")
		return
	}
	nick := msg.Params[0]

	// Unlike most servers, a session asking for the nickname it already has
	// gets ERR_NICKNAMEINUSE, too.
	if _, ok := srv.nicks[toLower(nick)]; ok {
		srv.reply(s, irc.ERR_NICKNAMEINUSE, nick, "Nickname is already in use")
		return
	}

	oldPrefix := s.prefix
	oldNick := toLower(s.nick)
	if s.nick != "" {
		delete(srv.nicks, oldNick)
	}
	s.nick = nick
	srv.nicks[toLower(nick)] = s
	s.updatePrefix()

	if !s.registered {
		srv.maybeRegister(s)
		return
	}

	nickmsg := &irc.Message{
		Prefix:  &oldPrefix,
		Command: irc.NICK,
		Params:  []string{nick},
	}
	srv.send(s, nickmsg)
	notified := map[*session]bool{s: true}
	for name := range s.channels {
		c := srv.channels[name]
		m := c.members[oldNick]
		delete(c.members, oldNick)
		c.members[toLower(nick)] = m
		for member := range c.members {
			other := srv.nicks[member]
			if other == nil || notified[other] {
				continue
			}
			notified[other] = true
			srv.send(other, nickmsg)
		}
	}
}

func (srv *Server) cmdUser(s *session, msg *irc.Message) {
	if s.registered {
		srv.reply(s, errAlreadyRegistered, "You may not reregister")
		return
	}
	s.user = msg.Params[0]
	s.realname = msg.Trailing()
	s.updatePrefix()
	srv.maybeRegister(s)
}

// maybeRegister completes the registration once NICK and USER were both
// received.
func (srv *Server) maybeRegister(s *session) {
	if s.nick == "" || s.user == "" {
		return
	}
	if srv.Password != "" && s.pass != srv.Password {
		srv.reply(s, irc.ERR_PASSWDMISMATCH, "Password incorrect")
		srv.send(s, &irc.Message{
			Command: irc.ERROR,
			Params:  []string{"Closing Link: password incorrect"},
		})
		s.quit = true
		return
	}
	s.registered = true
	srv.reply(s, irc.RPL_WELCOME, "Welcome to the Internet Relay Network "+s.prefix.String())
	srv.reply(s, rplYourHost, fmt.Sprintf("Your host is %s, running version ircfake", srv.prefix.Name))
	srv.reply(s, rplCreated, "This server was created for testing")
	srv.reply(s, rplMyInfo, srv.prefix.Name, "ircfake", "o", "imnst")
}

func (srv *Server) cmdQuit(s *session, msg *irc.Message) {
	reason := "Client Quit"
	if len(msg.Params) > 0 {
		reason = msg.Trailing()
	}
	quitmsg := &irc.Message{
		Prefix:  &s.prefix,
		Command: irc.QUIT,
		Params:  []string{reason},
	}
	notified := map[*session]bool{s: true}
	for name := range s.channels {
		c := srv.channels[name]
		for member := range c.members {
			other := srv.nicks[member]
			if other == nil || notified[other] {
				continue
			}
			notified[other] = true
			srv.send(other, quitmsg)
		}
	}
	srv.send(s, &irc.Message{
		Command: irc.ERROR,
		Params:  []string{"Closing Link: " + reason},
	})
	s.quit = true
}
