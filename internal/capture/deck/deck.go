// Package deck drives an RS-422 tape transport through the hal.DeckPort
// boundary. The controller owns the request/response discipline: one
// transaction at a time, retries with per-command timeouts, and a mode
// state machine that only advances on an acknowledged command. A deck
// that misses every retry is declared unresponsive and the controller
// drops to Disconnected until reconnected.
package deck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zsiec/slate/internal/capture/hal"
	"github.com/zsiec/slate/internal/capture/rs422"
	"github.com/zsiec/slate/internal/capture/timecode"
	"github.com/zsiec/slate/internal/config"
	"github.com/zsiec/slate/internal/errors"
	"github.com/zsiec/slate/internal/logger"
)

// Mode is the controller's view of the transport.
type Mode uint8

const (
	ModeDisconnected Mode = iota
	ModeIdle
	ModePlaying
	ModeRecording
	ModeFastForwarding
	ModeRewinding
	ModeShuttling
	ModeJogging
)

// String returns the string representation of Mode.
func (m Mode) String() string {
	switch m {
	case ModeDisconnected:
		return "disconnected"
	case ModeIdle:
		return "idle"
	case ModePlaying:
		return "playing"
	case ModeRecording:
		return "recording"
	case ModeFastForwarding:
		return "fast_forwarding"
	case ModeRewinding:
		return "rewinding"
	case ModeShuttling:
		return "shuttling"
	case ModeJogging:
		return "jogging"
	default:
		return "unknown"
	}
}

// Position is the last transport position read off the deck.
type Position struct {
	Timecode timecode.Timecode `json:"timecode"`
	Locked   bool              `json:"locked"`
	ReadAt   time.Time         `json:"read_at"`
}

// Controller is the deck control session over one RS-422 port.
type Controller struct {
	cfg  config.DeckConfig
	port hal.DeckPort

	// recordGuard, when set, must pass before a record command is sent.
	// The device facade uses it to refuse recording with no stream
	// running.
	recordGuard func() error

	mu       sync.Mutex
	mode     Mode
	status   rs422.Status
	position Position

	pollLimiter *rate.Limiter
	pollCancel  context.CancelFunc
	pollDone    chan struct{}

	logger logger.Logger
}

// NewController creates a controller over an open deck port. The
// controller is Disconnected until Connect succeeds.
func NewController(cfg config.DeckConfig, port hal.DeckPort, log logger.Logger) *Controller {
	return &Controller{
		cfg:         cfg,
		port:        port,
		mode:        ModeDisconnected,
		pollLimiter: rate.NewLimiter(rate.Limit(cfg.StatusPollHz), 1),
		logger:      log.WithField("component", "deck_controller"),
	}
}

// SetRecordGuard installs a preflight check run before every record
// command.
func (c *Controller) SetRecordGuard(guard func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordGuard = guard
}

// Mode returns the current transport mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Position returns the last transport position read from the deck.
func (c *Controller) Position() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Connect performs the initial status handshake. On success the
// controller leaves Disconnected and begins tracking the transport.
func (c *Controller) Connect(ctx context.Context) error {
	status, err := c.senseStatus(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.status = status
	c.mode = modeFromStatus(status)
	c.mu.Unlock()

	c.logger.WithField("mode", c.Mode().String()).Info("Deck connected")
	return nil
}

// Close stops polling. The port itself belongs to the device facade.
func (c *Controller) Close() {
	c.StopPolling()
	c.mu.Lock()
	c.mode = ModeDisconnected
	c.mu.Unlock()
}

// Play starts tape playback.
func (c *Controller) Play(ctx context.Context) error {
	return c.motion(ctx, rs422.Play(), ModePlaying)
}

// Stop halts tape motion.
func (c *Controller) Stop(ctx context.Context) error {
	return c.motion(ctx, rs422.Stop(), ModeIdle)
}

// Record puts the deck into record. Refused while the record guard
// fails: recording over RS-422 with no frames flowing produces tape
// with no content.
func (c *Controller) Record(ctx context.Context) error {
	c.mu.Lock()
	guard := c.recordGuard
	c.mu.Unlock()
	if guard != nil {
		if err := guard(); err != nil {
			return err
		}
	}
	return c.motion(ctx, rs422.Record(), ModeRecording)
}

// FastForward winds the tape forward at maximum speed.
func (c *Controller) FastForward(ctx context.Context) error {
	return c.motion(ctx, rs422.FastFwd(), ModeFastForwarding)
}

// Rewind winds the tape backward at maximum speed.
func (c *Controller) Rewind(ctx context.Context) error {
	return c.motion(ctx, rs422.Rewind(), ModeRewinding)
}

// Eject unloads the cassette and drops the transport to Idle.
func (c *Controller) Eject(ctx context.Context) error {
	return c.motion(ctx, rs422.Eject(), ModeIdle)
}

// Shuttle runs the tape at a variable speed; negative is reverse, the
// magnitude is a multiple of play speed.
func (c *Controller) Shuttle(ctx context.Context, speed float64) error {
	return c.motion(ctx, rs422.Shuttle(speed), ModeShuttling)
}

// Jog steps the tape by a signed frame offset.
func (c *Controller) Jog(ctx context.Context, offset int) error {
	return c.motion(ctx, rs422.Jog(offset), ModeJogging)
}

func (c *Controller) motion(ctx context.Context, pkt rs422.Packet, next Mode) error {
	if c.Mode() == ModeDisconnected {
		return errors.NewDeckUnresponsiveError("deck is not connected")
	}

	reply, err := c.transact(ctx, pkt)
	if err != nil {
		return err
	}
	if reply.IsNak() {
		var mask byte
		if len(reply.Data) > 0 {
			mask = reply.Data[0]
		}
		return errors.NewInvalidSequenceError(
			fmt.Sprintf("deck refused command %02X.%02X (error mask %02X)", pkt.Cmd1, pkt.Cmd2, mask))
	}
	if !reply.IsAck() {
		return errors.NewDeckUnresponsiveError(
			fmt.Sprintf("unexpected reply %02X.%02X to transport command", reply.Cmd1, reply.Cmd2))
	}

	c.mu.Lock()
	c.mode = next
	c.mu.Unlock()
	c.logger.WithField("mode", next.String()).Debug("Transport mode changed")
	return nil
}

// Status reads the deck's transport status.
func (c *Controller) Status(ctx context.Context) (rs422.Status, error) {
	if c.Mode() == ModeDisconnected {
		return rs422.Status{}, errors.NewDeckUnresponsiveError("deck is not connected")
	}
	return c.senseStatus(ctx)
}

func (c *Controller) senseStatus(ctx context.Context) (rs422.Status, error) {
	reply, err := c.transact(ctx, rs422.StatusSense())
	if err != nil {
		return rs422.Status{}, err
	}
	status, err := rs422.DecodeStatus(reply)
	if err != nil {
		return rs422.Status{}, errors.Wrap(err, errors.ErrorTypeDeckUnresponsive,
			"malformed status response", 503)
	}

	c.mu.Lock()
	c.status = status
	c.position.Locked = status.ServoLock
	if c.mode != ModeDisconnected {
		c.mode = modeFromStatus(status)
	}
	c.mu.Unlock()
	return status, nil
}

// Timecode reads the current tape position. The returned lock flag
// reports whether the servo is locked; an unlocked timecode is a hint,
// not a position.
func (c *Controller) Timecode(ctx context.Context) (Position, error) {
	if c.Mode() == ModeDisconnected {
		return Position{}, errors.NewDeckUnresponsiveError("deck is not connected")
	}

	status, err := c.senseStatus(ctx)
	if err != nil {
		return Position{}, err
	}

	reply, err := c.transact(ctx, rs422.TimeSense())
	if err != nil {
		return Position{}, err
	}
	tc, err := rs422.DecodeTime(reply)
	if err != nil {
		return Position{}, errors.Wrap(err, errors.ErrorTypeDeckUnresponsive,
			"malformed timecode response", 503)
	}

	pos := Position{Timecode: tc, Locked: status.ServoLock, ReadAt: time.Now()}
	c.mu.Lock()
	c.position = pos
	c.mu.Unlock()
	return pos, nil
}

// WaitForLock blocks until the servo reports lock, polling at the
// configured status rate. Gives up after the lock wait timeout.
func (c *Controller) WaitForLock(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LockWaitTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(c.cfg.StatusPollHz), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return errors.NewDeckUnresponsiveError("servo never locked within lock wait timeout")
		}
		status, err := c.senseStatus(ctx)
		if err != nil {
			return err
		}
		if status.ServoLock {
			return nil
		}
	}
}

// StartPolling launches the background status/timecode poll loop, paced
// by the configured poll rate.
func (c *Controller) StartPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.pollCancel = cancel
	c.pollDone = done
	go c.pollLoop(ctx, done)
}

// StopPolling halts the poll loop and waits for it to exit.
func (c *Controller) StopPolling() {
	c.mu.Lock()
	cancel := c.pollCancel
	done := c.pollDone
	c.pollCancel = nil
	c.pollDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *Controller) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if err := c.pollLimiter.Wait(ctx); err != nil {
			return
		}
		if c.Mode() == ModeDisconnected {
			return
		}
		if _, err := c.Timecode(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).Warn("Deck poll failed")
			if errors.IsType(err, errors.ErrorTypeDeckUnresponsive) {
				return
			}
		}
	}
}

// transact sends one packet with retries. Each attempt gets its own
// command timeout; exhausting every retry declares the deck unresponsive
// and drops the controller to Disconnected.
func (c *Controller) transact(ctx context.Context, pkt rs422.Packet) (rs422.Packet, error) {
	raw := pkt.Encode()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return rs422.Packet{}, errors.Wrap(ctx.Err(), errors.ErrorTypeDeckUnresponsive,
				"deck transaction cancelled", 503)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
		replyRaw, err := c.port.Transact(attemptCtx, raw)
		cancel()

		if err == nil {
			reply, derr := rs422.Decode(replyRaw)
			if derr == nil {
				deckCommandsTotal.Inc()
				return reply, nil
			}
			err = derr
		}

		lastErr = err
		deckRetriesTotal.Inc()
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"attempt": attempt,
			"cmd":     fmt.Sprintf("%02X.%02X", pkt.Cmd1, pkt.Cmd2),
		}).Warn("Deck transaction failed")
	}

	c.mu.Lock()
	c.mode = ModeDisconnected
	c.mu.Unlock()
	deckDisconnectsTotal.Inc()

	return rs422.Packet{}, errors.Wrap(lastErr, errors.ErrorTypeDeckUnresponsive,
		fmt.Sprintf("deck unresponsive after %d attempts", c.cfg.MaxRetries), 503)
}

func modeFromStatus(s rs422.Status) Mode {
	switch {
	case s.Playing:
		return ModePlaying
	case s.Recording:
		return ModeRecording
	case s.FastFwd:
		return ModeFastForwarding
	case s.Rewinding:
		return ModeRewinding
	case s.Shuttling:
		return ModeShuttling
	case s.Jogging:
		return ModeJogging
	default:
		return ModeIdle
	}
}
