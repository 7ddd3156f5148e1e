package ircfake

import (
	"sort"
	"strconv"
	"strings"

	"gopkg.in/sorcix/irc.v2"
)

func init() {
	commands["LIST"] = &command{
		Func: (*Server).cmdList,
	}
	commands["WHOIS"] = &command{
		Func:      (*Server).cmdWhois,
		MinParams: 1,
	}
	commands["WHO"] = &command{
		Func: (*Server).cmdWho,
	}
	commands["PING"] = &command{
		Func:         (*Server).cmdPing,
		Unregistered: true,
	}
}

func (srv *Server) cmdList(s *session, msg *irc.Message) {
	var names []string
	if len(msg.Params) > 0 {
		names = strings.Split(msg.Params[0], ",")
	} else {
		for _, c := range srv.channels {
			names = append(names, c.name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		c, ok := srv.channels[toLower(name)]
		if !ok {
			continue
		}
		if c.modes['s'] {
			if _, ok := c.members[toLower(s.nick)]; !ok {
				continue
			}
		}
		srv.reply(s, irc.RPL_LIST, c.name, strconv.Itoa(len(c.members)), c.topic)
	}
	srv.reply(s, irc.RPL_LISTEND, "End of LIST")
}

func (srv *Server) cmdWhois(s *session, msg *irc.Message) {
	// WHOIS [server] nick
	nick := msg.Params[len(msg.Params)-1]
	other, ok := srv.nicks[toLower(nick)]
	if !ok {
		srv.reply(s, irc.ERR_NOSUCHNICK, nick, "No such nick/channel")
		srv.reply(s, irc.RPL_ENDOFWHOIS, nick, "End of /WHOIS list")
		return
	}
	srv.reply(s, irc.RPL_WHOISUSER, other.nick, other.prefix.User, other.prefix.Host, "*", other.realname)

	var channels []string
	for name := range other.channels {
		c := srv.channels[name]
		if c == nil {
			continue
		}
		prefix := ""
		if m := c.members[toLower(other.nick)]; m != nil && m.op {
			prefix = "@"
		}
		channels = append(channels, prefix+c.name)
	}
	sort.Strings(channels)
	if len(channels) > 0 {
		srv.reply(s, irc.RPL_WHOISCHANNELS, other.nick, strings.Join(channels, " "))
	}
	srv.reply(s, irc.RPL_WHOISSERVER, other.nick, srv.prefix.Name, "ircfake")
	srv.reply(s, irc.RPL_ENDOFWHOIS, other.nick, "End of /WHOIS list")
}

func (srv *Server) cmdWho(s *session, msg *irc.Message) {
	if len(msg.Params) < 1 {
		srv.reply(s, irc.RPL_ENDOFWHO, "End of /WHO list")
		return
	}
	mask := msg.Params[0]
	var sessions []*session
	if c, ok := srv.channels[toLower(mask)]; ok {
		for nick := range c.members {
			if other := srv.nicks[nick]; other != nil {
				sessions = append(sessions, other)
			}
		}
	} else if other, ok := srv.nicks[toLower(mask)]; ok {
		sessions = append(sessions, other)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].nick < sessions[j].nick
	})
	for _, other := range sessions {
		srv.reply(s, irc.RPL_WHOREPLY, mask, other.prefix.User, other.prefix.Host, srv.prefix.Name, other.nick, "H", "0 "+other.realname)
	}
	srv.reply(s, irc.RPL_ENDOFWHO, mask, "End of /WHO list")
}

func (srv *Server) cmdPing(s *session, msg *irc.Message) {
	if len(msg.Params) < 1 {
		srv.reply(s, irc.ERR_NOORIGIN, "No origin specified")
		return
	}
	srv.send(s, &irc.Message{
		Prefix:  srv.prefix,
		Command: irc.PONG,
		Params:  []string{srv.prefix.Name, msg.Params[0]},
	})
}
