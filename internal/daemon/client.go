package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/schovi/mediarec/internal/capture"
)

var errNotReady = errors.New("daemon not ready")

type Client struct {
	dir string
}

// NewClient talks to the daemon whose socket lives in dir. An empty dir
// means DefaultDir.
func NewClient(dir string) *Client {
	if dir == "" {
		dir, _ = DefaultDir()
	}
	return &Client{dir: dir}
}

// EnsureDaemon starts `<self> daemon [args...]` in the background unless
// a daemon already answers on the socket.
func (c *Client) EnsureDaemon(args ...string) error {
	if c.Ping() {
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}

	cmd := exec.Command(exePath, append([]string{"daemon"}, args...)...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	go cmd.Wait()

	if err := c.WaitReady(DaemonStartTimeout); err != nil {
		return fmt.Errorf("daemon failed to start: %w", err)
	}
	return nil
}

// WaitReady pings the daemon with exponential backoff until it answers or
// maxWait elapses.
func (c *Client) WaitReady(maxWait time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DaemonPollInterval
	b.MaxInterval = time.Second
	b.MaxElapsedTime = maxWait

	return backoff.Retry(func() error {
		if c.Ping() {
			return nil
		}
		return errNotReady
	}, b)
}

func (c *Client) Ping() bool {
	resp, err := c.send(Request{Action: "ping"})
	return err == nil && resp.Success
}

func (c *Client) Create(name string, kind capture.Kind) (*SlotInfo, error) {
	if err := ValidateSlotName(name); err != nil {
		return nil, err
	}
	return c.slotRequest(Request{Action: "create", Name: name, Kind: string(kind)})
}

// Start returns the slot info alongside the error when the device request
// was refused, so callers can show the category.
func (c *Client) Start(name, device string) (*SlotInfo, error) {
	return c.slotRequest(Request{Action: "start", Name: name, Device: device})
}

func (c *Client) Pause(name string) (*SlotInfo, error) {
	return c.slotRequest(Request{Action: "pause", Name: name})
}

func (c *Client) Resume(name string) (*SlotInfo, error) {
	return c.slotRequest(Request{Action: "resume", Name: name})
}

func (c *Client) Clear(name string) (*SlotInfo, error) {
	return c.slotRequest(Request{Action: "clear", Name: name})
}

func (c *Client) Info(name string) (*SlotInfo, error) {
	return c.slotRequest(Request{Action: "info", Name: name})
}

func (c *Client) Stop(name string, timeout time.Duration) (*StopResult, error) {
	resp, err := c.send(Request{
		Action:         "stop",
		Name:           name,
		StopTimeoutSec: int(timeout / time.Second),
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s", resp.Error)
	}

	var result StopResult
	if err := decodeData(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Artifact(name string) (*capture.Artifact, error) {
	resp, err := c.send(Request{Action: "artifact", Name: name})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s", resp.Error)
	}

	var a capture.Artifact
	if err := decodeData(resp, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) List() ([]SlotInfo, error) {
	resp, err := c.send(Request{Action: "list"})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s", resp.Error)
	}

	var slots []SlotInfo
	if err := decodeData(resp, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

func (c *Client) Kill(name string) error {
	resp, err := c.send(Request{Action: "kill", Name: name})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

func (c *Client) slotRequest(req Request) (*SlotInfo, error) {
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}

	var info *SlotInfo
	if resp.Data != nil {
		info = &SlotInfo{}
		if err := decodeData(resp, info); err != nil {
			return nil, err
		}
	}
	if !resp.Success {
		return info, fmt.Errorf("%s", resp.Error)
	}
	if info == nil {
		return nil, fmt.Errorf("response has no data")
	}
	return info, nil
}

// deadline is how long the client waits for the answer to req. Start and
// stop block in the daemon for as long as the host needs, up to the limits
// the daemon enforces.
func deadline(req Request) time.Duration {
	switch req.Action {
	case "start":
		return StartDeadline
	case "stop":
		timeout := time.Duration(req.StopTimeoutSec) * time.Second
		if timeout <= 0 || timeout > MaxStopTimeout {
			timeout = MaxStopTimeout
		}
		return timeout + ClientDeadline
	}
	return ClientDeadline
}

func (c *Client) send(req Request) (*Response, error) {
	conn, err := net.Dial("unix", SocketPath(c.dir))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(deadline(req)))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, err
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func decodeData(resp *Response, v interface{}) error {
	if resp.Data == nil {
		return fmt.Errorf("response has no data")
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
