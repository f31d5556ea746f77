// Package client implements the client side of the echo protocol: one request
// and one response per connection.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dcrodman/echod/internal/message"
)

// Size of the single read performed when receiving a response.
const receiveBufferSize = 512

var (
	// ErrNotConnected is returned by any operation that needs a connection
	// before Connect has been called (or after Disconnect).
	ErrNotConnected = errors.New("no active connection")
	// ErrServerDisconnected is returned by Receive when the server closed the
	// connection without sending a response.
	ErrServerDisconnected = errors.New("server disconnected")
)

// Client talks to an echo server at a fixed address.
type Client struct {
	address string
	timeout time.Duration

	connection net.Conn
}

// New returns a Client for the server at address. timeout bounds how long
// Connect waits for the connection to be established and, once connected, how
// long Send and Receive wait on the network.
func New(address string, timeout time.Duration) *Client {
	return &Client{address: address, timeout: timeout}
}

// Connect opens a new TCP connection to the server.
func (c *Client) Connect() error {
	connection, err := net.DialTimeout("tcp", c.address, c.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.address, err)
	}
	c.connection = connection
	return nil
}

// Disconnect closes the connection to the server.
func (c *Client) Disconnect() error {
	if c.connection == nil {
		return ErrNotConnected
	}
	err := c.connection.Close()
	c.connection = nil
	return err
}

// LocalAddr returns the local end of the connection, or nil if not connected.
func (c *Client) LocalAddr() net.Addr {
	if c.connection == nil {
		return nil
	}
	return c.connection.LocalAddr()
}

// Send encodes msg and writes it to the server.
func (c *Client) Send(msg *message.ClientMessage) error {
	if c.connection == nil {
		return ErrNotConnected
	}
	if err := c.connection.SetWriteDeadline(c.deadline()); err != nil {
		return err
	}
	if _, err := c.connection.Write(msg.Marshal()); err != nil {
		return fmt.Errorf("failed to send to %s: %w", c.address, err)
	}
	return nil
}

// Receive performs a single read from the connection and decodes it as the
// server's response.
func (c *Client) Receive() (*message.ServerMessage, error) {
	if c.connection == nil {
		return nil, ErrNotConnected
	}
	if err := c.connection.SetReadDeadline(c.deadline()); err != nil {
		return nil, err
	}

	buffer := make([]byte, receiveBufferSize)
	bytesRead, err := c.connection.Read(buffer)
	if bytesRead == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, ErrServerDisconnected
		}
		return nil, fmt.Errorf("failed to read from %s: %w", c.address, err)
	}

	response, err := message.DecodeServerMessage(buffer[:bytesRead])
	if err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	return response, nil
}

func (c *Client) deadline() time.Time {
	if c.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.timeout)
}

// Echo is a convenience for the common case of connecting, sending content as
// an echo request and returning what the server echoed back.
func Echo(address, content string, timeout time.Duration) (string, error) {
	response, err := roundTrip(address, message.NewEchoRequest(content), timeout)
	if err != nil {
		return "", err
	}
	if response.EchoMessage == nil {
		return "", fmt.Errorf("unexpected %s response to an echo request", response.Kind())
	}
	return response.EchoMessage.Content, nil
}

// Add asks the server at address for the sum of a and b.
func Add(address string, a, b int32, timeout time.Duration) (int32, error) {
	response, err := roundTrip(address, message.NewAddRequest(a, b), timeout)
	if err != nil {
		return 0, err
	}
	if response.AddResponse == nil {
		return 0, fmt.Errorf("unexpected %s response to an add request", response.Kind())
	}
	return response.AddResponse.Result, nil
}

func roundTrip(address string, msg *message.ClientMessage, timeout time.Duration) (*message.ServerMessage, error) {
	c := New(address, timeout)
	if err := c.Connect(); err != nil {
		return nil, err
	}
	defer c.Disconnect()

	if err := c.Send(msg); err != nil {
		return nil, err
	}
	return c.Receive()
}
