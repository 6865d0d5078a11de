package platform

import (
	"context"
	"sync"
	"time"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/sirupsen/logrus"
)

const (
	blinkOn  = 500 * time.Millisecond
	blinkOff = 4500 * time.Millisecond
)

// Host emulates the board on a regular machine: suspend is a timer, the
// button is Press and the fault LED is a log line.
type Host struct {
	mu     sync.Mutex
	cause  entities.WakeCause
	wokeAt time.Time
	button chan struct{}
	now    func() time.Time
	log    *logrus.Entry
}

func NewHost(log *logrus.Entry) *Host {
	return &Host{
		cause:  entities.WakePowerOn,
		wokeAt: time.Now(),
		button: make(chan struct{}, 1),
		now:    time.Now,
		log:    log,
	}
}

func (h *Host) WakeCause() entities.WakeCause {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cause
}

func (h *Host) WokeAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.wokeAt
}

func (h *Host) Now() time.Time {
	return h.now()
}

func (h *Host) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Press emulates the user button. Presses while one is pending are dropped.
func (h *Host) Press() {
	select {
	case h.button <- struct{}{}:
	default:
	}
}

// Suspend waits for the first armed wake source.
func (h *Host) Suspend(ctx context.Context, d time.Duration, sources []entities.WakeSource) error {
	var timerC <-chan time.Time
	var buttonC <-chan struct{}
	for _, s := range sources {
		switch s {
		case entities.WakeSourceTimer:
			timer := time.NewTimer(d)
			defer timer.Stop()
			timerC = timer.C
		case entities.WakeSourceButton:
			buttonC = h.button
		}
	}

	cause := entities.WakeTimer
	select {
	case <-timerC:
	case <-buttonC:
		cause = entities.WakeButtonPress
	case <-ctx.Done():
		return ctx.Err()
	}
	h.wake(cause)
	return nil
}

// Restart emulates a soft reset; durable and retained state are untouched.
func (h *Host) Restart(ctx context.Context) {
	h.log.Warn("soft reset")
	h.wake(entities.WakeReset)
}

// Alert blinks the fault indicator until ctx ends. There is no way out
// short of a power cycle.
func (h *Host) Alert(ctx context.Context) {
	for {
		h.log.Error("fault indicator on")
		if h.Sleep(ctx, blinkOn) != nil {
			return
		}
		h.log.Debug("fault indicator off")
		if h.Sleep(ctx, blinkOff) != nil {
			return
		}
	}
}

func (h *Host) wake(cause entities.WakeCause) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cause = cause
	h.wokeAt = h.now()
	h.log.WithField("cause", cause).Debug("woke up")
}

// LogDisplay is a StatusSink that writes the screen to the log.
type LogDisplay struct {
	log *logrus.Entry
}

func NewLogDisplay(log *logrus.Entry) *LogDisplay {
	return &LogDisplay{log: log}
}

func (d *LogDisplay) Show(lines []entities.Line) {
	for _, l := range lines {
		d.log.WithFields(logrus.Fields{"x": l.X, "y": l.Y}).Info(l.Text)
	}
}
