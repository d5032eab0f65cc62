package singleinstance

import (
	"bufio"
	"context"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	PortStartEnvVar = "SINGLEINSTANCE_PORT_START"
	PortEndEnvVar   = "SINGLEINSTANCE_PORT_END"

	defaultPortStart = 49500
	defaultPortEnd   = 49550

	detectTimeout = 300 * time.Millisecond
)

// PortRange is an inclusive range of loopback ports. The resident binds
// Start; clients scan the whole range.
type PortRange struct {
	Start, End int
}

// PortRangeFromEnv reads the range from the environment, falling back to the
// defaults per bound and clamping to unprivileged ports.
func PortRangeFromEnv() PortRange {
	r := PortRange{
		Start: envPort(PortStartEnvVar, defaultPortStart),
		End:   envPort(PortEndEnvVar, defaultPortEnd),
	}
	r.Start = max(r.Start, 1024)
	r.End = min(r.End, 65535)
	if r.End < r.Start {
		r.Start, r.End = r.End, r.Start
	}
	return r
}

func envPort(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func addrFor(port int) string {
	return net.JoinHostPort(residentHost, strconv.Itoa(port))
}

// scan calls fn for every port that answers the handshake until fn returns
// true or ctx ends.
func (r PortRange) scan(ctx context.Context, timeout time.Duration, fn func(port int) bool) error {
	for port := r.Start; port <= r.End; port++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ping(addrFor(port), timeout) && fn(port) {
			return nil
		}
	}
	return nil
}

// DetectResidentPort returns the first port whose listener answers PING.
func DetectResidentPort(ctx context.Context) (int, bool) {
	found := 0
	_ = PortRangeFromEnv().scan(ctx, timeoutFrom(ctx, detectTimeout), func(port int) bool {
		found = port
		return true
	})
	return found, found != 0
}

// timeoutFrom uses the time left on ctx when it has a deadline.
func timeoutFrom(ctx context.Context, fallback time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return fallback
}

func ping(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte(pingRequest)); err != nil {
		return false
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	return err == nil && resp == pongResponse
}
