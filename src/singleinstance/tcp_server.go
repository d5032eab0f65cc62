package singleinstance

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"screen-capture-stage/src/logutil"
)

const (
	residentHost    = "127.0.0.1"
	pingRequest     = "PING\n"
	pongResponse    = "PONG\n"
	successLine     = "SUCCESS\n"
	errorLine       = "ERROR\n"
	handshakeWindow = 3 * time.Second
)

// ErrServerClosed is returned by Next after Close.
var ErrServerClosed = errors.New("single-instance server closed")

// tcpServer implements Server over TCP loopback.
type tcpServer struct {
	mu       sync.Mutex
	lis      net.Listener
	incoming chan *pendingConn
	done     chan struct{}
	port     int
	closed   bool
}

func newTCPServer() *tcpServer {
	return &tcpServer{incoming: make(chan *pendingConn, 8), done: make(chan struct{})}
}

// Start binds ONLY the start port of the configured range. If occupied, fail.
func (s *tcpServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		return nil
	}
	if s.closed {
		return ErrServerClosed
	}
	log := logutil.WithComponent("singleinstance")
	start := PortRangeFromEnv().Start
	addr := addrFor(start)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("failed to bind")
		return err
	}
	s.lis = lis
	s.port = start
	log.Info().Str("addr", addr).Msg("listening")
	go s.acceptLoop(ctx, lis)
	return nil
}

// Port returns the bound port (0 if not started).
func (s *tcpServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *tcpServer) acceptLoop(ctx context.Context, lis net.Listener) {
	for {
		c, err := lis.Accept()
		if err != nil {
			return
		}
		pc, ok := handshake(c)
		if !ok {
			_ = c.Close()
			continue
		}
		select {
		case s.incoming <- pc:
		case <-ctx.Done():
			_ = c.Close()
			return
		case <-s.done:
			_ = c.Close()
			return
		}
	}
}

// handshake reads the request line. It answers PING and malformed lines
// itself and reports ok only for a command the loop must answer.
func handshake(c net.Conn) (*pendingConn, bool) {
	log := logutil.WithComponent("singleinstance")
	remote := c.RemoteAddr().String()
	_ = c.SetDeadline(time.Now().Add(handshakeWindow))

	line, _ := bufio.NewReader(c).ReadString('\n')
	pc := &pendingConn{c: c, w: bufio.NewWriter(c)}
	if line == pingRequest {
		log.Debug().Str("remote", remote).Msg("ping")
		_ = pc.reply(pongResponse, "")
		return nil, false
	}
	cmd, ok := ParseCommand(line)
	if !ok {
		log.Warn().Str("remote", remote).Str("line", logutil.SanitizeForLog(line, 32)).Msg("unknown command")
		_ = pc.reply(errorLine, "unknown command")
		return nil, false
	}

	// The loop may take a while to act on a capture.
	_ = c.SetDeadline(time.Time{})
	log.Info().Str("remote", remote).Str("command", string(cmd)).Msg("request")
	pc.req = Request{Command: cmd}
	return pc, true
}

func (s *tcpServer) Next(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrServerClosed
	case tc := <-s.incoming:
		return tc, nil
	}
}

func (s *tcpServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	var err error
	if s.lis != nil {
		err = s.lis.Close()
		s.lis = nil
	}
	return err
}

// pendingConn is an accepted command waiting for the loop's answer.
type pendingConn struct {
	c   net.Conn
	req Request
	w   *bufio.Writer
}

func (pc *pendingConn) Request() Request { return pc.req }

func (pc *pendingConn) RespondSuccess(text string) error { return pc.reply(successLine, text) }

func (pc *pendingConn) RespondError(msg string) error { return pc.reply(errorLine, msg) }

func (pc *pendingConn) reply(status, body string) error {
	if _, err := pc.w.WriteString(status + body); err != nil {
		return err
	}
	return pc.w.Flush()
}

func (pc *pendingConn) Close() error { return pc.c.Close() }
