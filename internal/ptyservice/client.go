package ptyservice

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// replyTimeout bounds the wait for a status reply to a request.
const replyTimeout = 5 * time.Second

// Client dials the PTY service socket on behalf of the daemon and the
// dashboard.
type Client struct {
	socketPath string
}

// NewClient returns a Client for the service at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Dial opens one connection to the PTY service.
func (c *Client) Dial() (*Conn, error) {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial pty service: %w", err)
	}
	return &Conn{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// ListSessions asks the service for its session table.
func (c *Client) ListSessions() ([]SessionInfo, error) {
	conn, err := c.Dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.send(request{Action: "list"}); err != nil {
		return nil, err
	}
	conn.conn.SetReadDeadline(time.Now().Add(replyTimeout))
	line, err := conn.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read list reply: %w", err)
	}
	var reply listReply
	if err := json.Unmarshal(line, &reply); err != nil {
		return nil, fmt.Errorf("decode list reply: %w", err)
	}
	if reply.Status != "ok" {
		return nil, fmt.Errorf("list sessions: status %q", reply.Status)
	}
	return reply.Sessions, nil
}

// CloseSession asks the service to tear down a session.
func (c *Client) CloseSession(sessionID string) error {
	conn, err := c.Dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.send(request{Action: "close", SessionID: sessionID}); err != nil {
		return err
	}
	reply, err := conn.readReply()
	if err != nil {
		return err
	}
	if reply.Status != "closed" {
		return fmt.Errorf("close session: %s", reply.Message)
	}
	return nil
}

// Conn is one streaming connection to the PTY service.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// CreateSession starts command in a new session and returns its id.
// The connection then streams that session.
func (pc *Conn) CreateSession(command string, timeout time.Duration) (string, error) {
	if err := pc.send(request{Action: "create", Command: command, Timeout: timeout.Seconds()}); err != nil {
		return "", err
	}
	reply, err := pc.readReply()
	if err != nil {
		return "", err
	}
	if reply.Status != "created" {
		return "", fmt.Errorf("create session: %s", reply.Message)
	}
	return reply.SessionID, nil
}

// Attach joins an existing session's stream.
func (pc *Conn) Attach(sessionID string) error {
	if err := pc.send(request{Action: "attach", SessionID: sessionID}); err != nil {
		return err
	}
	reply, err := pc.readReply()
	if err != nil {
		return err
	}
	if reply.Status != "attached" {
		return fmt.Errorf("attach session: %s", reply.Message)
	}
	return nil
}

// SendInput forwards keyboard data to the session.
func (pc *Conn) SendInput(data string) error {
	return pc.send(inputFrame{Type: "input", Data: data})
}

// SendSignal forwards a named signal (SIGINT or SIGTERM).
func (pc *Conn) SendSignal(name string) error {
	return pc.send(inputFrame{Type: "signal", Signal: name})
}

// ReadFrame blocks for the next stream frame. Undecodable lines are
// skipped. The caller should stop reading after a done or error frame.
func (pc *Conn) ReadFrame() (map[string]interface{}, error) {
	for {
		line, err := pc.reader.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(line, &frame); err != nil {
			continue
		}
		return frame, nil
	}
}

// Close shuts the connection down. The session survives unless it was
// explicitly closed.
func (pc *Conn) Close() error {
	return pc.conn.Close()
}

func (pc *Conn) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := pc.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

func (pc *Conn) readReply() (statusReply, error) {
	pc.conn.SetReadDeadline(time.Now().Add(replyTimeout))
	defer pc.conn.SetReadDeadline(time.Time{})

	line, err := pc.reader.ReadBytes('\n')
	if err != nil {
		return statusReply{}, fmt.Errorf("read reply: %w", err)
	}
	var reply statusReply
	if err := json.Unmarshal(line, &reply); err != nil {
		return statusReply{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}
