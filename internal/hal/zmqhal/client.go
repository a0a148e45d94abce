// Package zmqhal drives a real board through a hardware daemon reached over
// ZeroMQ. Commands go over a REQ socket; pin edges arrive on a SUB socket.
package zmqhal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/spf13/afero"

	"github.com/wizlab/wildlife-camera/internal/hal"
)

// Daemon operations
const (
	OpSetMode         = "set_mode"
	OpWrite           = "write"
	OpHold            = "hold"
	OpAttach          = "attach"
	OpDetach          = "detach"
	OpADCRead         = "adc_read"
	OpSensorInit      = "sensor_init"
	OpGrab            = "grab"
	OpWiFiConnect     = "wifi_connect"
	OpWiFiStatus      = "wifi_status"
	OpSDMount         = "sd_mount"
	OpSDUnmount       = "sd_unmount"
	OpSDUsage         = "sd_usage"
	OpWakeReason      = "wake_reason"
	OpEnableWakeOnPin = "wake_on_pin"
	OpDeepSleep       = "deep_sleep"

	topicEdge = "edge"
)

// Config holds configuration for the daemon connection
type Config struct {
	CommandURL string // REQ socket for commands
	EventURL   string // SUB socket for pin events
	CardMount  string // host path where the daemon mounts the SD card
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		CommandURL: "ipc:///tmp/wildcamd_command",
		EventURL:   "ipc:///tmp/wildcamd_event",
		CardMount:  "/mnt/sdcard",
	}
}

// Client implements the hal interfaces against the daemon
type Client struct {
	config Config
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cmdMu   sync.Mutex
	cmdSock zmq4.Socket

	eventSock zmq4.Socket

	mu   sync.Mutex
	isrs map[hal.Pin]func()
}

// Dial connects both sockets and starts the event loop
func Dial(config Config, log *slog.Logger) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config: config,
		log:    log.With("component", "zmqhal"),
		ctx:    ctx,
		cancel: cancel,
		isrs:   make(map[hal.Pin]func()),
	}

	c.eventSock = zmq4.NewSub(ctx)
	if err := c.eventSock.Dial(config.EventURL); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect event socket: %w", err)
	}
	if err := c.eventSock.SetOption(zmq4.OptionSubscribe, topicEdge); err != nil {
		c.eventSock.Close()
		cancel()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	c.cmdSock = zmq4.NewReq(ctx)
	if err := c.cmdSock.Dial(config.CommandURL); err != nil {
		c.eventSock.Close()
		cancel()
		return nil, fmt.Errorf("failed to connect command socket: %w", err)
	}

	c.wg.Add(1)
	go c.eventLoop()

	c.log.Info("connected to hardware daemon", "cmd", config.CommandURL, "event", config.EventURL)
	return c, nil
}

// Close stops the event loop and closes both sockets
func (c *Client) Close() error {
	c.cancel()
	c.eventSock.Close()
	c.cmdSock.Close()
	c.wg.Wait()
	return nil
}

// HAL exposes the client through the hal interfaces
func (c *Client) HAL() hal.Board {
	return hal.Board{GPIO: c, ADC: c, Sensor: c, Radio: c, SD: c, Power: c}
}

// call sends one request and waits for the reply. REQ sockets are strictly
// send/receive alternating, so calls are serialized.
func (c *Client) call(req *Request) (*Response, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	msg := zmq4.NewMsgFrom([]byte(req.Op), MarshalRequest(req))
	if err := c.cmdSock.Send(msg); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", req.Op, err)
	}
	reply, err := c.cmdSock.Recv()
	if err != nil {
		return nil, fmt.Errorf("failed to receive %s reply: %w", req.Op, err)
	}
	if len(reply.Frames) == 0 {
		return nil, fmt.Errorf("%s: %w: empty reply", req.Op, ErrMalformed)
	}
	resp, err := UnmarshalResponse(reply.Frames[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Op, err)
	}
	if err := statusError(req.Op, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func statusError(op string, resp *Response) error {
	switch resp.Status {
	case StatusOK:
		return nil
	case StatusBusy:
		return fmt.Errorf("%s: %w: %s", op, hal.ErrPinBusy, resp.Error)
	case StatusNoCard:
		return fmt.Errorf("%s: %w", op, hal.ErrNoCard)
	default:
		return fmt.Errorf("%s failed (status %d): %s", op, resp.Status, resp.Error)
	}
}

func (c *Client) eventLoop() {
	defer c.wg.Done()

	for {
		msg, err := c.eventSock.Recv()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			continue
		}
		if len(msg.Frames) < 2 || string(msg.Frames[0]) != topicEdge {
			continue
		}
		ev, err := UnmarshalEvent(msg.Frames[1])
		if err != nil {
			c.log.Warn("failed to decode event", "err", err)
			continue
		}

		c.mu.Lock()
		isr := c.isrs[hal.Pin(ev.Pin)]
		c.mu.Unlock()
		if isr != nil && ev.Level {
			isr()
		}
	}
}

func (c *Client) SetMode(pin hal.Pin, mode hal.PinMode) error {
	_, err := c.call(&Request{Op: OpSetMode, Pin: int32(pin), Value: int64(mode)})
	return err
}

func (c *Client) Write(pin hal.Pin, high bool) error {
	_, err := c.call(&Request{Op: OpWrite, Pin: int32(pin), Value: boolValue(high)})
	return err
}

func (c *Client) Hold(pin hal.Pin, enable bool) error {
	_, err := c.call(&Request{Op: OpHold, Pin: int32(pin), Value: boolValue(enable)})
	return err
}

// AttachInterrupt asks the daemon to publish edges of pin; isr runs on the
// event loop goroutine.
func (c *Client) AttachInterrupt(pin hal.Pin, edge hal.Edge, isr func()) error {
	if _, err := c.call(&Request{Op: OpAttach, Pin: int32(pin), Value: int64(edge)}); err != nil {
		return err
	}
	c.mu.Lock()
	c.isrs[pin] = isr
	c.mu.Unlock()
	return nil
}

func (c *Client) DetachInterrupt(pin hal.Pin) error {
	c.mu.Lock()
	delete(c.isrs, pin)
	c.mu.Unlock()
	_, err := c.call(&Request{Op: OpDetach, Pin: int32(pin)})
	return err
}

func (c *Client) Read(pin hal.Pin) (uint32, uint32, error) {
	resp, err := c.call(&Request{Op: OpADCRead, Pin: int32(pin)})
	if err != nil {
		return 0, 0, err
	}
	return uint32(resp.Value), uint32(resp.Aux), nil
}

func (c *Client) Init(cfg hal.SensorConfig) error {
	_, err := c.call(&Request{Op: OpSensorInit, Value: int64(cfg.Quality), Args: []string{string(cfg.FrameSize)}})
	return err
}

func (c *Client) Grab() ([]byte, error) {
	resp, err := c.call(&Request{Op: OpGrab})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Connect asks the daemon to associate. The daemon applies its own timeout;
// ctx is checked before the request is sent.
func (c *Client) Connect(ctx context.Context, ssid, psk string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := &Request{Op: OpWiFiConnect, Args: []string{ssid, psk}}
	if deadline, ok := ctx.Deadline(); ok {
		req.Value = time.Until(deadline).Milliseconds()
	}
	_, err := c.call(req)
	return err
}

func (c *Client) Connected() bool {
	resp, err := c.call(&Request{Op: OpWiFiStatus})
	if err != nil {
		c.log.Debug("wifi status unavailable", "err", err)
		return false
	}
	return resp.Value != 0
}

// Mount mounts the card on the daemon side and exposes it through the
// configured mount point.
func (c *Client) Mount() (afero.Fs, error) {
	if _, err := c.call(&Request{Op: OpSDMount}); err != nil {
		return nil, err
	}
	return afero.NewBasePathFs(afero.NewOsFs(), c.config.CardMount), nil
}

func (c *Client) Unmount() error {
	_, err := c.call(&Request{Op: OpSDUnmount})
	return err
}

func (c *Client) Usage() (uint64, uint64, error) {
	resp, err := c.call(&Request{Op: OpSDUsage})
	if err != nil {
		return 0, 0, err
	}
	return uint64(resp.Value), uint64(resp.Aux), nil
}

func (c *Client) WakeReason() hal.WakeReason {
	resp, err := c.call(&Request{Op: OpWakeReason})
	if err != nil {
		c.log.Warn("failed to read wake reason", "err", err)
		return hal.WakeUnknown
	}
	return hal.WakeReason(resp.Value)
}

func (c *Client) EnableWakeOnPin(pin hal.Pin, high bool) error {
	_, err := c.call(&Request{Op: OpEnableWakeOnPin, Pin: int32(pin), Value: boolValue(high)})
	return err
}

// DeepSleep blocks until the daemon reports the board awake again. If ctx
// ends first the client is closed, since the pending request cannot be
// abandoned on a REQ socket.
func (c *Client) DeepSleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.isrs = make(map[hal.Pin]func())
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := c.call(&Request{Op: OpDeepSleep, Value: d.Milliseconds()})
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
