package ircfake

import (
	"sort"
	"strings"

	"gopkg.in/sorcix/irc.v2"
)

const (
	rplChannelModeIs = "324"
	errUnknownMode   = "472"
	rplUModeIs       = "221"
)

func init() {
	commands["JOIN"] = &command{
		Func:      (*Server).cmdJoin,
		MinParams: 1,
	}
	commands["PART"] = &command{
		Func:      (*Server).cmdPart,
		MinParams: 1,
	}
	commands["TOPIC"] = &command{
		Func:      (*Server).cmdTopic,
		MinParams: 1,
	}
	commands["NAMES"] = &command{
		Func: (*Server).cmdNames,
	}
	commands["MODE"] = &command{
		Func:      (*Server).cmdMode,
		MinParams: 1,
	}
	commands["KICK"] = &command{
		Func:      (*Server).cmdKick,
		MinParams: 2,
	}
	commands["INVITE"] = &command{
		Func:      (*Server).cmdInvite,
		MinParams: 2,
	}
}

func validChannel(name string) bool {
	return len(name) > 1 && name[0] == '#' && !strings.ContainsAny(name, " ,\x07")
}

func (srv *Server) cmdJoin(s *session, msg *irc.Message) {
	for _, channelname := range strings.Split(msg.Params[0], ",") {
		if !validChannel(channelname) {
			srv.reply(s, irc.ERR_NOSUCHCHANNEL, channelname, "No such channel")
			continue
		}
		lc := toLower(channelname)
		c, existed := srv.channels[lc]
		if !existed {
			c = &channel{
				name:    channelname,
				members: make(map[lcName]*member),
			}
			c.modes['n'] = true
			c.modes['t'] = true
			srv.channels[lc] = c
		} else if c.modes['i'] && !s.invitedTo[lc] {
			srv.reply(s, irc.ERR_INVITEONLYCHAN, c.name, "Cannot join channel (+i)")
			continue
		}
		// Invites are only valid once.
		delete(s.invitedTo, lc)
		if _, ok := c.members[toLower(s.nick)]; ok {
			continue
		}
		// The first user to join a channel becomes its operator.
		c.members[toLower(s.nick)] = &member{op: !existed}
		s.channels[lc] = true

		srv.sendChannel(c, nil, &irc.Message{
			Prefix:  &s.prefix,
			Command: irc.JOIN,
			Params:  []string{c.name},
		})
		if c.topic != "" {
			srv.reply(s, rplTopic, c.name, c.topic)
		}
		srv.names(s, c)
	}
}

func (srv *Server) cmdPart(s *session, msg *irc.Message) {
	var reason []string
	if len(msg.Params) > 1 {
		reason = []string{msg.Trailing()}
	}
	for _, channelname := range strings.Split(msg.Params[0], ",") {
		lc := toLower(channelname)
		c, ok := srv.channels[lc]
		if !ok {
			srv.reply(s, irc.ERR_NOSUCHCHANNEL, channelname, "No such channel")
			continue
		}
		if _, ok := c.members[toLower(s.nick)]; !ok {
			srv.reply(s, irc.ERR_NOTONCHANNEL, channelname, "You're not on that channel")
			continue
		}
		srv.sendChannel(c, nil, &irc.Message{
			Prefix:  &s.prefix,
			Command: irc.PART,
			Params:  append([]string{c.name}, reason...),
		})
		delete(c.members, toLower(s.nick))
		delete(s.channels, lc)
		srv.maybeDeleteChannelLocked(c)
	}
}

func (srv *Server) cmdTopic(s *session, msg *irc.Message) {
	channelname := msg.Params[0]
	c, ok := srv.channels[toLower(channelname)]
	if !ok {
		srv.reply(s, irc.ERR_NOSUCHCHANNEL, channelname, "No such channel")
		return
	}
	if len(msg.Params) < 2 {
		if c.topic == "" {
			srv.reply(s, rplNoTopic, c.name, "No topic is set")
			return
		}
		srv.reply(s, rplTopic, c.name, c.topic)
		return
	}
	m, ok := c.members[toLower(s.nick)]
	if !ok {
		srv.reply(s, irc.ERR_NOTONCHANNEL, c.name, "You're not on that channel")
		return
	}
	if c.modes['t'] && !m.op {
		srv.reply(s, irc.ERR_CHANOPRIVSNEEDED, c.name, "You're not channel operator")
		return
	}
	c.topic = msg.Trailing()
	srv.sendChannel(c, nil, &irc.Message{
		Prefix:  &s.prefix,
		Command: irc.TOPIC,
		Params:  []string{c.name, c.topic},
	})
}

func (srv *Server) cmdNames(s *session, msg *irc.Message) {
	if len(msg.Params) > 0 {
		if c, ok := srv.channels[toLower(msg.Params[0])]; ok {
			srv.names(s, c)
			return
		}
		srv.reply(s, irc.RPL_ENDOFNAMES, msg.Params[0], "End of /NAMES list.")
		return
	}
	srv.reply(s, irc.RPL_ENDOFNAMES, "*", "End of /NAMES list.")
}

func (srv *Server) names(s *session, c *channel) {
	nicks := make([]string, 0, len(c.members))
	for nick, m := range c.members {
		other := srv.nicks[nick]
		if other == nil {
			continue
		}
		if m.op {
			nicks = append(nicks, "@"+other.nick)
		} else {
			nicks = append(nicks, other.nick)
		}
	}
	sort.Strings(nicks)
	srv.reply(s, irc.RPL_NAMREPLY, "=", c.name, strings.Join(nicks, " "))
	srv.reply(s, irc.RPL_ENDOFNAMES, c.name, "End of /NAMES list.")
}

func (c *channel) modeString() string {
	modes := "+"
	for m := 'a'; m < 'z'; m++ {
		if c.modes[m] {
			modes += string(m)
		}
	}
	return modes
}

func (srv *Server) cmdMode(s *session, msg *irc.Message) {
	target := msg.Params[0]
	if !strings.HasPrefix(target, "#") {
		srv.userMode(s, target)
		return
	}
	c, ok := srv.channels[toLower(target)]
	if !ok {
		srv.reply(s, irc.ERR_NOSUCHCHANNEL, target, "No such channel")
		return
	}
	if len(msg.Params) < 2 {
		srv.reply(s, rplChannelModeIs, c.name, c.modeString())
		return
	}
	if m, ok := c.members[toLower(s.nick)]; !ok || !m.op {
		srv.reply(s, irc.ERR_CHANOPRIVSNEEDED, c.name, "You're not channel operator")
		return
	}

	args := msg.Params[2:]
	var applied []string
	add := true
	modestr := ""
	sign := byte(0)
	for _, mode := range msg.Params[1] {
		switch mode {
		case '+', '-':
			add = mode == '+'
			continue
		case 'i', 'm', 'n', 's', 't':
			c.modes[mode] = add
		case 'o':
			if len(args) == 0 {
				srv.reply(s, irc.ERR_NEEDMOREPARAMS, irc.MODE, "Not enough parameters")
				continue
			}
			nick := args[0]
			args = args[1:]
			m, ok := c.members[toLower(nick)]
			if !ok {
				srv.reply(s, irc.ERR_USERNOTINCHANNEL, nick, c.name, "They aren't on that channel")
				continue
			}
			m.op = add
			applied = append(applied, nick)
		default:
			srv.reply(s, errUnknownMode, string(mode), "is unknown mode char to me")
			continue
		}
		want := byte('-')
		if add {
			want = '+'
		}
		if sign != want {
			modestr += string(want)
			sign = want
		}
		modestr += string(mode)
	}
	if modestr == "" {
		return
	}
	srv.sendChannel(c, nil, &irc.Message{
		Prefix:  &s.prefix,
		Command: irc.MODE,
		Params:  append([]string{c.name, modestr}, applied...),
	})
}

func (srv *Server) userMode(s *session, nick string) {
	if toLower(nick) != toLower(s.nick) {
		srv.reply(s, irc.ERR_USERSDONTMATCH, "Can't change mode for other users")
		return
	}
	srv.reply(s, rplUModeIs, "+")
}

func (srv *Server) cmdKick(s *session, msg *irc.Message) {
	channelname := msg.Params[0]
	c, ok := srv.channels[toLower(channelname)]
	if !ok {
		srv.reply(s, irc.ERR_NOSUCHCHANNEL, channelname, "No such channel")
		return
	}
	m, ok := c.members[toLower(s.nick)]
	if !ok {
		srv.reply(s, irc.ERR_NOTONCHANNEL, c.name, "You're not on that channel")
		return
	}
	if !m.op {
		srv.reply(s, irc.ERR_CHANOPRIVSNEEDED, c.name, "You're not channel operator")
		return
	}
	victimNick := toLower(msg.Params[1])
	if _, ok := c.members[victimNick]; !ok {
		srv.reply(s, irc.ERR_USERNOTINCHANNEL, msg.Params[1], c.name, "They aren't on that channel")
		return
	}
	reason := s.nick
	if len(msg.Params) > 2 {
		reason = msg.Trailing()
	}
	srv.sendChannel(c, nil, &irc.Message{
		Prefix:  &s.prefix,
		Command: irc.KICK,
		Params:  []string{c.name, msg.Params[1], reason},
	})
	delete(c.members, victimNick)
	if victim, ok := srv.nicks[victimNick]; ok {
		delete(victim.channels, toLower(c.name))
	}
	srv.maybeDeleteChannelLocked(c)
}

func (srv *Server) cmdInvite(s *session, msg *irc.Message) {
	nick, channelname := msg.Params[0], msg.Params[1]
	c, ok := srv.channels[toLower(channelname)]
	if !ok {
		srv.reply(s, irc.ERR_NOSUCHCHANNEL, channelname, "No such channel")
		return
	}
	m, ok := c.members[toLower(s.nick)]
	if !ok {
		srv.reply(s, irc.ERR_NOTONCHANNEL, c.name, "You're not on that channel")
		return
	}
	invitee, ok := srv.nicks[toLower(nick)]
	if !ok {
		srv.reply(s, irc.ERR_NOSUCHNICK, nick, "No such nick/channel")
		return
	}
	if _, ok := c.members[toLower(nick)]; ok {
		srv.reply(s, irc.ERR_USERONCHANNEL, invitee.nick, c.name, "is already on channel")
		return
	}
	if c.modes['i'] && !m.op {
		srv.reply(s, irc.ERR_CHANOPRIVSNEEDED, c.name, "You're not channel operator")
		return
	}
	invitee.invitedTo[toLower(c.name)] = true
	srv.reply(s, irc.RPL_INVITING, invitee.nick, c.name)
	srv.send(invitee, &irc.Message{
		Prefix:  &s.prefix,
		Command: irc.INVITE,
		Params:  []string{invitee.nick, c.name},
	})
}
