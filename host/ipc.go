package host

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"framesense/backend"
	"framesense/messages"
	"framesense/ocr"
)

const (
	shellHost      = "127.0.0.1"
	dialTimeout    = 2 * time.Second
	defaultRPCWait = 10 * time.Second
)

// ErrNoShell indicates no host shell was found in the port range.
var ErrNoShell = errors.New("no host shell found")

// IPCConfig selects the loopback port range scanned for a resident
// host shell.
type IPCConfig struct {
	PortStart int
	PortEnd   int
}

// rpcRequest is one line on the wire: a command invocation.
type rpcRequest struct {
	ID     int             `json:"id"`
	Cmd    string          `json:"cmd"`
	Params json.RawMessage `json:"params,omitempty"`
}

// rpcEnvelope is one received line: either a response (ID set) or an
// unsolicited host event (Event set).
type rpcEnvelope struct {
	ID      *int            `json:"id,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IPC is a line-delimited JSON RPC client attached to the host shell
// over loopback TCP.
type IPC struct {
	conn   net.Conn
	w      *bufio.Writer
	log    *zap.Logger
	events chan messages.Event

	mu      sync.Mutex
	nextID  int
	pending map[int]chan rpcEnvelope
	closed  bool
}

// DialIPC scans the configured port range for a listening shell,
// performs the ping handshake, and attaches. Returns ErrNoShell when
// the whole range is silent.
func DialIPC(cfg IPCConfig, logger *zap.Logger) (*IPC, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for port := cfg.PortStart; port <= cfg.PortEnd; port++ {
		addr := net.JoinHostPort(shellHost, strconv.Itoa(port))
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			continue
		}
		ipc, err := attach(conn, logger)
		if err != nil {
			conn.Close()
			logger.Debug("host handshake failed", zap.String("addr", addr), zap.Error(err))
			continue
		}
		logger.Info("attached to host shell", zap.String("addr", addr))
		return ipc, nil
	}
	return nil, ErrNoShell
}

func attach(conn net.Conn, logger *zap.Logger) (*IPC, error) {
	_ = conn.SetDeadline(time.Now().Add(dialTimeout))
	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(`{"type":"ping"}` + "\n"); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	var pong struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(line), &pong); err != nil || pong.Type != "pong" {
		return nil, fmt.Errorf("unexpected handshake reply: %q", line)
	}
	_ = conn.SetDeadline(time.Time{})

	ipc := &IPC{
		conn:    conn,
		w:       w,
		log:     logger,
		events:  make(chan messages.Event, 16),
		pending: make(map[int]chan rpcEnvelope),
	}
	go ipc.readLoop(r)
	return ipc, nil
}

func (c *IPC) readLoop(r *bufio.Reader) {
	defer func() {
		c.mu.Lock()
		c.closed = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.events)
	}()

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			c.log.Debug("host connection closed", zap.Error(err))
			return
		}
		var env rpcEnvelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			c.log.Warn("dropping malformed host line", zap.String("line", line))
			continue
		}

		if env.Event != "" {
			if ev := decodeEvent(env.Event, env.Payload); ev != nil {
				select {
				case c.events <- ev:
				default:
					c.log.Warn("host event dropped, queue full", zap.String("event", env.Event))
				}
			}
			continue
		}

		if env.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*env.ID]
			if ok {
				delete(c.pending, *env.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- env
				close(ch)
			}
		}
	}
}

// decodeEvent maps a host event name to its typed message. Unknown
// events are dropped.
func decodeEvent(name string, payload json.RawMessage) messages.Event {
	switch name {
	case messages.TypeSelectionResult:
		var ev messages.SelectionResult
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil
		}
		return ev
	case messages.TypeSaveStateAndClose:
		return messages.SaveStateAndClose{}
	case messages.TypeChatSubmit:
		var ev messages.ChatSubmit
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil
		}
		return ev
	case messages.TypeModelSelected:
		var ev messages.ModelSelected
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil
		}
		return ev
	case messages.TypePanelToggle:
		var ev messages.PanelToggle
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil
		}
		return ev
	case messages.TypePaymentSuccess:
		var ev messages.PaymentSuccess
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &ev)
		}
		return ev
	case messages.TypeLoginRequest:
		var ev messages.LoginRequest
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil
		}
		return ev
	case messages.TypeLogoutRequest:
		return messages.LogoutRequest{}
	case messages.TypeCopyResult:
		return messages.CopyResult{}
	case messages.TypeFrontendReady:
		return messages.FrontendReady{}
	default:
		return nil
	}
}

// call sends one command and waits for its response.
func (c *IPC) call(ctx context.Context, cmd string, params any, out any) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = data
	}

	ch := make(chan rpcEnvelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("host connection closed")
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch

	data, err := json.Marshal(rpcRequest{ID: id, Cmd: cmd, Params: raw})
	if err == nil {
		_, err = c.w.Write(append(data, '\n'))
		if err == nil {
			err = c.w.Flush()
		}
	}
	c.mu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(defaultRPCWait)
	defer timer.Stop()

	select {
	case env, ok := <-ch:
		if !ok {
			return errors.New("host connection closed")
		}
		if !env.OK {
			return fmt.Errorf("host command %s failed: %s", cmd, env.Error)
		}
		if out != nil && env.Result != nil {
			return json.Unmarshal(env.Result, out)
		}
		return nil
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	case <-timer.C:
		c.dropPending(id)
		return fmt.Errorf("host command %s timed out", cmd)
	}
}

// dropPending forgets an abandoned call so a host that never answers
// cannot grow the pending map without bound.
func (c *IPC) dropPending(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// emit sends a fire-and-forget event line to the host.
func (c *IPC) emit(name string, payload any) error {
	env := struct {
		Event   string `json:"event"`
		Payload any    `json:"payload,omitempty"`
	}{Event: name, Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("host connection closed")
	}
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *IPC) ShowWindow() error {
	return c.call(nil, "showWindow", nil, nil)
}

func (c *IPC) ResizeWindow(width, height int) error {
	return c.call(nil, "resizeWindow", map[string]int{"width": width, "height": height}, nil)
}

func (c *IPC) GetWindowInfo() (messages.WindowInfo, error) {
	var info messages.WindowInfo
	err := c.call(nil, "getWindowInfo", nil, &info)
	return info, err
}

func (c *IPC) CreateSelectionOverlay() error {
	return c.call(nil, "createSelectionOverlay", nil, nil)
}

func (c *IPC) CloseSelectionOverlay() error {
	return c.call(nil, "closeSelectionOverlay", nil, nil)
}

func (c *IPC) ProcessScreenSelection(ctx context.Context, bounds messages.Bounds) error {
	return c.call(ctx, "processScreenSelection", bounds, nil)
}

func (c *IPC) ExtractTextOCR(ctx context.Context, imageData string) (ocr.Result, error) {
	var res ocr.Result
	err := c.call(ctx, "extractTextOCR", map[string]string{"imageData": imageData}, &res)
	return res, err
}

func (c *IPC) SaveSession(user *backend.User) error {
	return c.call(nil, "saveSession", user, nil)
}

func (c *IPC) LoadSession() (*backend.User, error) {
	var user backend.User
	if err := c.call(nil, "loadSession", nil, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, nil
	}
	return &user, nil
}

func (c *IPC) ClearSession() error {
	return c.call(nil, "clearSession", nil, nil)
}

func (c *IPC) SaveAppState(state messages.AppState) error {
	return c.call(nil, "saveAppState", state, nil)
}

func (c *IPC) LoadAppState() (messages.AppState, error) {
	var state messages.AppState
	err := c.call(nil, "loadAppState", nil, &state)
	return state, err
}

func (c *IPC) CopyToClipboard(text string) error {
	return c.call(nil, "copyToClipboard", map[string]string{"text": text}, nil)
}

func (c *IPC) Events() <-chan messages.Event { return c.events }

func (c *IPC) EmitFrontendReady() error {
	return c.emit(messages.TypeFrontendReady, map[string]any{
		"windowType": "main",
		"timestamp":  time.Now().Unix(),
	})
}

func (c *IPC) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

var _ Commander = (*IPC)(nil)
