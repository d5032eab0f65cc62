package singleinstance

// This file defines the API for single-instance ownership and command
// delegation from a second launch to the resident process.

import (
	"context"
	"strings"
)

// Command is what a delegating client asks the resident to do.
type Command string

const (
	// CommandCapture starts a screenshot capture in the resident.
	CommandCapture Command = "CAPTURE"
	// CommandShow brings the resident's main window forward.
	CommandShow Command = "SHOW"
)

// ParseCommand maps a request line onto a known command.
func ParseCommand(line string) (Command, bool) {
	switch cmd := Command(strings.ToUpper(strings.TrimSpace(line))); cmd {
	case CommandCapture, CommandShow:
		return cmd, true
	default:
		return "", false
	}
}

// Server owns the TCP endpoint and answers delegated commands.
type Server interface {
	// Start binds the first port of the configured range.
	Start(ctx context.Context) error
	// Port returns the bound TCP port, or 0 if not started.
	Port() int
	// Next returns the next accepted connection as a Conn, or ctx error.
	Next(ctx context.Context) (Conn, error)
	// Close releases ownership and stops accepting clients.
	Close() error
}

// Conn represents one client connection and exposes request + response API.
type Conn interface {
	// Request returns the parsed client request.
	Request() Request
	// RespondSuccess sends success with optional text.
	RespondSuccess(text string) error
	// RespondError sends an error with human-readable message.
	RespondError(msg string) error
	// Close closes the underlying connection.
	Close() error
}

// Request represents a single delegated command.
type Request struct {
	Command Command
}

// Client attempts to delegate a command to a resident server.
type Client interface {
	// TryCommand scans the port range, performs the handshake and delegates.
	// If no resident is found, returns delegated=false, err=nil.
	TryCommand(ctx context.Context, cmd Command) (delegated bool, text string, err error)
}

// NewServer returns TCP implementation.
func NewServer() Server { return newTCPServer() }

// NewClient returns TCP implementation.
func NewClient() Client { return newTCPClient() }
