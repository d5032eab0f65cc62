package singleinstance

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"
)

const commandTimeout = 2 * time.Second

type tcpClient struct{}

func newTCPClient() *tcpClient { return &tcpClient{} }

func (c *tcpClient) TryCommand(ctx context.Context, cmd Command) (bool, string, error) {
	timeout := timeoutFrom(ctx, commandTimeout)
	var (
		delegated bool
		text      string
		sendErr   error
	)
	err := PortRangeFromEnv().scan(ctx, timeout, func(port int) bool {
		delegated, text, sendErr = send(addrFor(port), cmd, timeout)
		return delegated
	})
	if delegated {
		return true, text, sendErr
	}
	return false, "", err
}

// send writes one command and reads the status reply. delegated is false
// only when the resident could not be reached at all.
func send(addr string, cmd Command, timeout time.Duration) (bool, string, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false, "", nil
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write([]byte(string(cmd) + "\n")); err != nil {
		return true, "", err
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		return true, "", err
	}
	body, _ := io.ReadAll(br)
	switch status {
	case successLine:
		return true, string(body), nil
	case errorLine:
		return true, "", errors.New(string(body))
	default:
		return false, "", nil
	}
}
