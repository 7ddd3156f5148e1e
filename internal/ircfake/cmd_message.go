package ircfake

import (
	"fmt"
	"strings"

	"gopkg.in/sorcix/irc.v2"
)

func init() {
	commands["PRIVMSG"] = &command{
		Func: (*Server).cmdPrivmsg,
	}
	commands["NOTICE"] = &command{
		Func: (*Server).cmdPrivmsg,
	}
}

func (srv *Server) cmdPrivmsg(s *session, msg *irc.Message) {
	if len(msg.Params) < 1 {
		srv.reply(s, irc.ERR_NORECIPIENT, fmt.Sprintf("No recipient given (%s)", msg.Command))
		return
	}
	if len(msg.Params) < 2 || msg.Trailing() == "" {
		srv.reply(s, irc.ERR_NOTEXTTOSEND, "No text to send")
		return
	}
	relay := &irc.Message{
		Prefix:  &s.prefix,
		Command: strings.ToUpper(msg.Command),
		Params:  []string{msg.Params[0], msg.Trailing()},
	}

	if strings.HasPrefix(msg.Params[0], "#") {
		c, ok := srv.channels[toLower(msg.Params[0])]
		if !ok {
			srv.reply(s, irc.ERR_NOSUCHCHANNEL, msg.Params[0], "No such channel")
			return
		}
		if _, ok := c.members[toLower(s.nick)]; !ok && c.modes['n'] {
			srv.reply(s, irc.ERR_CANNOTSENDTOCHAN, c.name, "Cannot send to channel")
			return
		}
		srv.sendChannel(c, s, relay)
		return
	}

	other, ok := srv.nicks[toLower(msg.Params[0])]
	if !ok {
		srv.reply(s, irc.ERR_NOSUCHNICK, msg.Params[0], "No such nick/channel")
		return
	}
	srv.send(other, relay)
}
