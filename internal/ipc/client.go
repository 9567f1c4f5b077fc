package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

const maxConnectRetries = 3

// Client is the IPC Supervisor's client side: used by an in-process
// stand-in for a real child process in tests, and as the reference
// implementation the real child's own IPC client should match on the
// wire.
type Client struct {
	sessionID string
	requestID string

	mu      sync.Mutex
	conn    net.Conn
	scanner *bufio.Scanner
	retries int
}

// NewClient creates a Client for the given session/request pair.
func NewClient(sessionID, requestID string) *Client {
	return &Client{sessionID: sessionID, requestID: requestID}
}

// Connect attempts to connect to path, retrying up to 3 times with the
// same exponential backoff as the server on ECONNREFUSED/ENOENT. A
// successful connection resets the retry counter.
func (c *Client) Connect(path string) bool {
	for attempt := 0; attempt <= maxConnectRetries; attempt++ {
		conn, err := net.Dial("unix", path)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.scanner = bufio.NewScanner(conn)
			c.scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
			c.retries = 0
			c.mu.Unlock()
			return true
		}
		if attempt == maxConnectRetries {
			break
		}
		backoff := time.Duration(minInt(100*pow2(attempt), 2000)) * time.Millisecond
		time.Sleep(backoff)
	}
	return false
}

// Reconnect tears down the current connection and restarts it against
// path.
func (c *Client) Reconnect(path string) bool {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	return c.Connect(path)
}

// Send writes one message of the given type and payload. Write failures
// are non-fatal: the caller is told "not sent" rather than receiving an
// error, since a server Stop() draining connections is an expected
// shutdown path, not a bug.
func (c *Client) Send(msgType MessageType, payload interface{}) (sent bool) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	msg := Message{
		Type:      msgType,
		SessionID: c.sessionID,
		RequestID: c.requestID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		return false
	}
	return true
}

// ReadAck blocks for the next line on the connection and parses it as an
// ack message.
func (c *Client) ReadAck() (Message, error) {
	c.mu.Lock()
	scanner := c.scanner
	c.mu.Unlock()
	if scanner == nil {
		return Message{}, fmt.Errorf("ipc client: not connected")
	}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("ipc client: connection closed")
	}
	return ParseMessage(scanner.Bytes())
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
