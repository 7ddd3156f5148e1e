package ircfake

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/stapelberg/glog"
)

const (
	socksStatusGranted = iota
	socksStatusGeneralFailure
	socksStatusNotAllowed
	socksStatusNetworkUnreachable
	socksStatusHostUnreachable
	socksStatusConnectionRefused
	socksStatusTTLExpired
	socksStatusCommandNotSupported
	socksStatusAddressTypeNotSupported
)

const (
	_ = iota
	socksCommandConnectTCP
)

const (
	_ = iota
	socksAddrIPv4
	_
	socksAddrDNS
	socksAddrIPv6
)

const socksAuthNone = 0

// SOCKSRelay is a minimal SOCKS5 server (CONNECT without authentication),
// used to exercise the proxied dialing path against a local Server.
type SOCKSRelay struct {
	ln net.Listener
	wg sync.WaitGroup

	mu        sync.Mutex
	conns     map[net.Conn]bool
	relayed   []string
	closeOnce sync.Once
}

// ListenSOCKS starts a SOCKSRelay on addr and returns it.
func ListenSOCKS(addr string) (*SOCKSRelay, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	r := &SOCKSRelay{
		ln:    ln,
		conns: make(map[net.Conn]bool),
	}
	r.wg.Add(1)
	go r.serve()
	return r, nil
}

// Addr returns the address the relay listens on.
func (r *SOCKSRelay) Addr() string {
	return r.ln.Addr().String()
}

// Relayed returns the destinations of all granted CONNECT requests.
func (r *SOCKSRelay) Relayed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.relayed...)
}

// Close stops the relay and tears down all relayed connections.
func (r *SOCKSRelay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.ln.Close()
		r.mu.Lock()
		for conn := range r.conns {
			conn.Close()
		}
		r.mu.Unlock()
		r.wg.Wait()
	})
	return err
}

func (r *SOCKSRelay) track(conn net.Conn, add bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if add {
		r.conns[conn] = true
	} else {
		delete(r.conns, conn)
	}
}

func (r *SOCKSRelay) serve() {
	defer r.wg.Done()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			glog.V(1).Infof("socks: accept: %v", err)
			return
		}
		r.track(conn, true)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.track(conn, false)
			defer conn.Close()
			if err := r.handleConn(conn); err != nil {
				glog.Warningf("socks: %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

type socksRequest struct {
	Version  uint8
	Command  uint8 // Status in the response
	Reserved uint8
	AddrType uint8
	Addr     []byte
	Port     uint16
}

func (req *socksRequest) destination() (string, error) {
	var host string
	switch req.AddrType {
	case socksAddrIPv4, socksAddrIPv6:
		host = net.IP(req.Addr).String()
	case socksAddrDNS:
		// The first byte is the length.
		host = string(req.Addr[1:])
	default:
		return "", fmt.Errorf("unsupported address type %d", req.AddrType)
	}
	return net.JoinHostPort(host, strconv.Itoa(int(req.Port))), nil
}

func (r *SOCKSRelay) handleConn(conn net.Conn) error {
	if err := socksGreet(conn); err != nil {
		return err
	}
	req, err := socksReadRequest(conn)
	if err != nil {
		return err
	}
	if req.Version != 5 {
		req.Command = socksStatusCommandNotSupported
		socksSendResponse(conn, req)
		return fmt.Errorf("unsupported SOCKS version %d", req.Version)
	}
	if req.Command != socksCommandConnectTCP {
		cmd := req.Command
		req.Command = socksStatusCommandNotSupported
		socksSendResponse(conn, req)
		return fmt.Errorf("unsupported SOCKS command %d", cmd)
	}
	dest, err := req.destination()
	if err != nil {
		req.Command = socksStatusAddressTypeNotSupported
		socksSendResponse(conn, req)
		return err
	}
	upstream, err := net.Dial("tcp", dest)
	if err != nil {
		req.Command = socksStatusConnectionRefused
		socksSendResponse(conn, req)
		return fmt.Errorf("dialing %s: %v", dest, err)
	}
	r.track(upstream, true)
	defer r.track(upstream, false)
	defer upstream.Close()

	req.Command = socksStatusGranted
	if err := socksSendResponse(conn, req); err != nil {
		return err
	}
	r.mu.Lock()
	r.relayed = append(r.relayed, dest)
	r.mu.Unlock()
	glog.V(1).Infof("socks: relaying %s to %s", conn.RemoteAddr(), dest)

	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(upstream, conn)
		errc <- err
	}()
	go func() {
		_, err := io.Copy(conn, upstream)
		errc <- err
	}()
	// Either direction ending tears down both.
	err = <-errc
	conn.Close()
	upstream.Close()
	<-errc
	return err
}

func socksGreet(conn net.Conn) error {
	var g struct {
		Version uint8
		NumAuth uint8
	}
	if err := binary.Read(conn, binary.BigEndian, &g); err != nil {
		return fmt.Errorf("could not read SOCKS5 header: %v", err)
	}
	if g.Version != 5 {
		return fmt.Errorf("unsupported SOCKS version %d", g.Version)
	}
	auths := make([]byte, g.NumAuth)
	if _, err := io.ReadFull(conn, auths); err != nil {
		return fmt.Errorf("could not read authentication methods: %v", err)
	}
	var noAuth bool
	for _, a := range auths {
		if a == socksAuthNone {
			noAuth = true
			break
		}
	}
	answer := struct {
		Version uint8
		Auth    uint8
	}{Version: 5}
	if !noAuth {
		answer.Auth = 0xFF
	}
	if err := binary.Write(conn, binary.BigEndian, answer); err != nil {
		return fmt.Errorf("could not send: %v", err)
	}
	if !noAuth {
		return errors.New("no supported authentication methods")
	}
	return nil
}

func socksReadRequest(conn net.Conn) (*socksRequest, error) {
	var h struct {
		Version  uint8
		Command  uint8
		Reserved uint8
		AddrType uint8
	}
	if err := binary.Read(conn, binary.BigEndian, &h); err != nil {
		return nil, err
	}
	var addr []byte
	switch h.AddrType {
	case socksAddrIPv4:
		addr = make([]byte, 4)
	case socksAddrDNS:
		var n uint8
		if err := binary.Read(conn, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		addr = make([]byte, int(n)+1)
		addr[0] = n
	case socksAddrIPv6:
		addr = make([]byte, 16)
	default:
		return nil, fmt.Errorf("unknown address type %d", h.AddrType)
	}
	offset := 0
	if h.AddrType == socksAddrDNS {
		offset = 1
	}
	if _, err := io.ReadFull(conn, addr[offset:]); err != nil {
		return nil, err
	}
	var port uint16
	if err := binary.Read(conn, binary.BigEndian, &port); err != nil {
		return nil, err
	}
	return &socksRequest{
		Version:  h.Version,
		Command:  h.Command,
		Reserved: h.Reserved,
		AddrType: h.AddrType,
		Addr:     addr,
		Port:     port,
	}, nil
}

func socksSendResponse(conn net.Conn, res *socksRequest) error {
	h := struct {
		Version  uint8
		Status   uint8
		Reserved uint8
		AddrType uint8
	}{
		Version:  5,
		Status:   res.Command,
		Reserved: res.Reserved,
		AddrType: res.AddrType,
	}
	if err := binary.Write(conn, binary.BigEndian, &h); err != nil {
		return err
	}
	if _, err := conn.Write(res.Addr); err != nil {
		return err
	}
	return binary.Write(conn, binary.BigEndian, res.Port)
}
