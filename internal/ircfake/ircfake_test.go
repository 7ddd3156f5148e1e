package ircfake

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/sorcix/irc.v2"
)

const testServerName = "irc.test"

type testConn struct {
	t    *testing.T
	nick string
	conn net.Conn
	r    *bufio.Reader
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer(testServerName, "pass")
	addr, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, addr
}

func dial(t *testing.T, addr, nick string) *testConn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, nick: nick, conn: conn, r: bufio.NewReader(conn)}
}

// dialRegistered connects and completes the registration, discarding the
// welcome burst.
func dialRegistered(t *testing.T, addr, nick string) *testConn {
	t.Helper()
	tc := dial(t, addr, nick)
	tc.send("PASS pass")
	tc.send("NICK " + nick)
	tc.send("USER " + nick + " 0 * :Real " + nick)
	for i := 0; i < 4; i++ {
		tc.readLine()
	}
	return tc
}

func (tc *testConn) send(line string) {
	tc.t.Helper()
	if _, err := tc.conn.Write([]byte(line + "\r\n")); err != nil {
		tc.t.Fatal(err)
	}
}

func (tc *testConn) readLine() string {
	tc.t.Helper()
	tc.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := tc.r.ReadString('\n')
	if err != nil {
		tc.t.Fatalf("%s: reading line: %v (partial %q)", tc.nick, err, line)
	}
	return strings.TrimRight(line, "\r\n")
}

func (tc *testConn) prefix() string {
	return tc.nick + "!" + tc.nick + "@127.0.0.1"
}

// expect reads len(want) lines and fails the test with a diff if they do not
// match. Expected lines are normalized through the irc package, so that the
// placement of the trailing colon does not matter.
func (tc *testConn) expect(want ...string) {
	tc.t.Helper()
	got := make([]string, len(want))
	for idx := range want {
		got[idx] = tc.readLine()
		if msg := irc.ParseMessage(want[idx]); msg != nil {
			want[idx] = msg.String()
		}
	}
	g, w := strings.Join(got, "\n"), strings.Join(want, "\n")
	if g == w {
		return
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(w, g, false)
	tc.t.Logf("diff (want → got):\n%s", dmp.DiffPrettyText(diffs))
	tc.t.Fatalf("%s: unexpected lines: got %q, want %q", tc.nick, got, want)
}

// expectClosed verifies that the server closed the connection.
func (tc *testConn) expectClosed() {
	tc.t.Helper()
	tc.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := tc.r.ReadString('\n')
	if err != io.EOF {
		tc.t.Fatalf("%s: got %q, %v, want EOF", tc.nick, line, err)
	}
}

func TestRegistration(t *testing.T) {
	_, addr := startServer(t)
	tc := dial(t, addr, "alice")
	tc.send("PASS pass")
	tc.send("NICK alice")
	tc.send("USER alice 0 * :Alice Liddell")
	tc.expect(
		":irc.test 001 alice :Welcome to the Internet Relay Network alice!alice@127.0.0.1",
		":irc.test 002 alice :Your host is irc.test, running version ircfake",
		":irc.test 003 alice :This server was created for testing",
		":irc.test 004 alice irc.test ircfake o imnst",
	)

	tc.send("USER alice 0 * :Alice Liddell")
	tc.expect(":irc.test 462 alice :You may not reregister")
}

func TestWrongPassword(t *testing.T) {
	_, addr := startServer(t)
	tc := dial(t, addr, "mallory")
	tc.send("PASS wrong")
	tc.send("NICK mallory")
	tc.send("USER mallory 0 * :Mallory")
	tc.expect(
		":irc.test 464 mallory :Password incorrect",
		"ERROR :Closing Link: password incorrect",
	)
	tc.expectClosed()
}

func TestNotRegistered(t *testing.T) {
	_, addr := startServer(t)
	tc := dial(t, addr, "early")
	tc.send("JOIN #test")
	tc.send("FOO")
	tc.expect(
		":irc.test 451 * :You have not registered",
		":irc.test 421 * FOO :Unknown command",
	)
}

func TestNickInUse(t *testing.T) {
	_, addr := startServer(t)
	alice := dialRegistered(t, addr, "alice")

	alice.send("NICK alice")
	alice.expect(":irc.test 433 alice alice :Nickname is already in use")

	bob := dial(t, addr, "bob")
	bob.send("PASS pass")
	bob.send("NICK ALICE")
	bob.expect(":irc.test 433 * ALICE :Nickname is already in use")

	alice.send("NICK")
	alice.expect(":irc.test 431 alice :No nickname given")
}

func TestNickChange(t *testing.T) {
	_, addr := startServer(t)
	alice := dialRegistered(t, addr, "alice")
	bob := dialRegistered(t, addr, "bob")
	alice.send("JOIN #test")
	alice.expect(
		":"+alice.prefix()+" JOIN #test",
		":irc.test 353 alice = #test :@alice",
		":irc.test 366 alice #test :End of /NAMES list.",
	)
	bob.send("JOIN #test")
	bob.expect(
		":"+bob.prefix()+" JOIN #test",
		":irc.test 353 bob = #test :@alice bob",
		":irc.test 366 bob #test :End of /NAMES list.",
	)
	alice.expect(":" + bob.prefix() + " JOIN #test")

	alice.send("NICK carol")
	alice.expect(":" + alice.prefix() + " NICK carol")
	bob.expect(":" + alice.prefix() + " NICK carol")

	bob.send("NAMES #test")
	bob.expect(
		":irc.test 353 bob = #test :@carol bob",
		":irc.test 366 bob #test :End of /NAMES list.",
	)
}

func TestQuit(t *testing.T) {
	srv, addr := startServer(t)
	alice := dialRegistered(t, addr, "alice")
	bob := dialRegistered(t, addr, "bob")
	alice.send("JOIN #test")
	alice.expect(
		":"+alice.prefix()+" JOIN #test",
		":irc.test 353 alice = #test :@alice",
		":irc.test 366 alice #test :End of /NAMES list.",
	)
	bob.send("JOIN #test")
	bob.expect(
		":"+bob.prefix()+" JOIN #test",
		":irc.test 353 bob = #test :@alice bob",
		":irc.test 366 bob #test :End of /NAMES list.",
	)
	alice.expect(":" + bob.prefix() + " JOIN #test")

	bob.send("QUIT :gone fishing")
	bob.expect("ERROR :Closing Link: gone fishing")
	bob.expectClosed()
	alice.expect(":" + bob.prefix() + " QUIT :gone fishing")

	// The nickname is free again once the session is gone.
	deadline := time.Now().Add(2 * time.Second)
	for srv.NumSessions() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got, want := srv.NumSessions(), 1; got != want {
		t.Fatalf("NumSessions() = %d, want %d", got, want)
	}
	dialRegistered(t, addr, "bob")
}

func TestChannels(t *testing.T) {
	_, addr := startServer(t)
	alice := dialRegistered(t, addr, "alice")
	bob := dialRegistered(t, addr, "bob")

	alice.send("JOIN #test,nochannel")
	alice.expect(
		":"+alice.prefix()+" JOIN #test",
		":irc.test 353 alice = #test :@alice",
		":irc.test 366 alice #test :End of /NAMES list.",
		":irc.test 403 alice nochannel :No such channel",
	)

	alice.send("TOPIC #test")
	alice.expect(":irc.test 331 alice #test :No topic is set")
	alice.send("TOPIC #test :Welcome to the test")
	alice.expect(":" + alice.prefix() + " TOPIC #test :Welcome to the test")

	bob.send("JOIN #test")
	bob.expect(
		":"+bob.prefix()+" JOIN #test",
		":irc.test 332 bob #test :Welcome to the test",
		":irc.test 353 bob = #test :@alice bob",
		":irc.test 366 bob #test :End of /NAMES list.",
	)
	alice.expect(":" + bob.prefix() + " JOIN #test")

	bob.send("TOPIC #test :mine now")
	bob.expect(":irc.test 482 bob #test :You're not channel operator")

	bob.send("PART #test :see you")
	bob.expect(":" + bob.prefix() + " PART #test :see you")
	alice.expect(":" + bob.prefix() + " PART #test :see you")

	bob.send("PART #test")
	bob.expect(":irc.test 442 bob #test :You're not on that channel")
	bob.send("PART #nonexistant")
	bob.expect(":irc.test 403 bob #nonexistant :No such channel")
}

func TestModesAndKick(t *testing.T) {
	_, addr := startServer(t)
	alice := dialRegistered(t, addr, "alice")
	bob := dialRegistered(t, addr, "bob")
	carol := dialRegistered(t, addr, "carol")

	alice.send("JOIN #test")
	alice.expect(
		":"+alice.prefix()+" JOIN #test",
		":irc.test 353 alice = #test :@alice",
		":irc.test 366 alice #test :End of /NAMES list.",
	)
	bob.send("JOIN #test")
	bob.expect(
		":"+bob.prefix()+" JOIN #test",
		":irc.test 353 bob = #test :@alice bob",
		":irc.test 366 bob #test :End of /NAMES list.",
	)
	alice.expect(":" + bob.prefix() + " JOIN #test")

	alice.send("MODE #test")
	alice.expect(":irc.test 324 alice #test +nt")

	bob.send("MODE #test +i")
	bob.expect(":irc.test 482 bob #test :You're not channel operator")

	alice.send("MODE #test +iX")
	alice.expect(
		":irc.test 472 alice X :is unknown mode char to me",
		":"+alice.prefix()+" MODE #test +i",
	)
	bob.expect(":" + alice.prefix() + " MODE #test +i")

	carol.send("JOIN #test")
	carol.expect(":irc.test 473 carol #test :Cannot join channel (+i)")

	alice.send("KICK #test bob :behave")
	alice.expect(":" + alice.prefix() + " KICK #test bob :behave")
	bob.expect(":" + alice.prefix() + " KICK #test bob :behave")

	alice.send("KICK #test bob")
	alice.expect(":irc.test 441 alice bob #test :They aren't on that channel")

	alice.send("MODE alice")
	alice.expect(":irc.test 221 alice +")
	alice.send("MODE bob")
	alice.expect(":irc.test 502 alice :Can't change mode for other users")
}

func TestMessages(t *testing.T) {
	_, addr := startServer(t)
	alice := dialRegistered(t, addr, "alice")
	bob := dialRegistered(t, addr, "bob")

	alice.send("PRIVMSG bob :Hello Private")
	bob.expect(":" + alice.prefix() + " PRIVMSG bob :Hello Private")
	alice.send("NOTICE bob :Hello Notice")
	bob.expect(":" + alice.prefix() + " NOTICE bob :Hello Notice")

	alice.send("PRIVMSG nobody :hi")
	alice.expect(":irc.test 401 alice nobody :No such nick/channel")
	alice.send("PRIVMSG bob")
	alice.expect(":irc.test 412 alice :No text to send")
	alice.send("PRIVMSG")
	alice.expect(":irc.test 411 alice :No recipient given (PRIVMSG)")

	alice.send("JOIN #test")
	alice.expect(
		":"+alice.prefix()+" JOIN #test",
		":irc.test 353 alice = #test :@alice",
		":irc.test 366 alice #test :End of /NAMES list.",
	)
	bob.send("PRIVMSG #test :from outside")
	bob.expect(":irc.test 404 bob #test :Cannot send to channel")
}

func TestInvite(t *testing.T) {
	_, addr := startServer(t)
	alice := dialRegistered(t, addr, "alice")
	bob := dialRegistered(t, addr, "bob")

	alice.send("JOIN #test")
	alice.expect(
		":"+alice.prefix()+" JOIN #test",
		":irc.test 353 alice = #test :@alice",
		":irc.test 366 alice #test :End of /NAMES list.",
	)
	alice.send("MODE #test +i")
	alice.expect(":" + alice.prefix() + " MODE #test +i")

	alice.send("INVITE nobody #test")
	alice.expect(":irc.test 401 alice nobody :No such nick/channel")
	alice.send("INVITE bob #test")
	alice.expect(":irc.test 341 alice bob #test")
	bob.expect(":" + alice.prefix() + " INVITE bob #test")

	bob.send("JOIN #test")
	bob.expect(
		":"+bob.prefix()+" JOIN #test",
		":irc.test 353 bob = #test :@alice bob",
		":irc.test 366 bob #test :End of /NAMES list.",
	)
	alice.expect(":" + bob.prefix() + " JOIN #test")

	alice.send("INVITE bob #test")
	alice.expect(":irc.test 443 alice bob #test :is already on channel")

	// The invite was consumed by the JOIN.
	bob.send("PART #test")
	bob.expect(":" + bob.prefix() + " PART #test")
	alice.expect(":" + bob.prefix() + " PART #test")
	bob.send("JOIN #test")
	bob.expect(":irc.test 473 bob #test :Cannot join channel (+i)")
}

func TestQueries(t *testing.T) {
	_, addr := startServer(t)
	alice := dialRegistered(t, addr, "alice")

	alice.send("JOIN #listchan")
	alice.expect(
		":"+alice.prefix()+" JOIN #listchan",
		":irc.test 353 alice = #listchan :@alice",
		":irc.test 366 alice #listchan :End of /NAMES list.",
	)
	alice.send("TOPIC #listchan :listed")
	alice.expect(":" + alice.prefix() + " TOPIC #listchan listed")

	alice.send("LIST")
	alice.expect(
		":irc.test 322 alice #listchan 1 listed",
		":irc.test 323 alice :End of LIST",
	)

	alice.send("WHOIS alice")
	alice.expect(
		":irc.test 311 alice alice alice 127.0.0.1 * :Real alice",
		":irc.test 319 alice alice :@#listchan",
		":irc.test 312 alice alice irc.test ircfake",
		":irc.test 318 alice alice :End of /WHOIS list",
	)
	alice.send("WHOIS nobody")
	alice.expect(
		":irc.test 401 alice nobody :No such nick/channel",
		":irc.test 318 alice nobody :End of /WHOIS list",
	)

	alice.send("WHO #listchan")
	alice.expect(
		":irc.test 352 alice #listchan alice 127.0.0.1 irc.test alice H :0 Real alice",
		":irc.test 315 alice #listchan :End of /WHO list",
	)

	alice.send("PING token")
	alice.expect(":irc.test PONG irc.test token")
	alice.send("PING")
	alice.expect(":irc.test 409 alice :No origin specified")
}
