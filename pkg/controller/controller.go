package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/codec"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/escalation"
	"github.com/sirupsen/logrus"
)

// State is a step of the wake episode.
type State uint8

const (
	StateInit State = iota
	StateSensing
	StateEncoding
	StateJoining
	StateTransmitting
	StateCommitting
	StateSuspending
	StateErrorHandling
	stateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSensing:
		return "sensing"
	case StateEncoding:
		return "encoding"
	case StateJoining:
		return "joining"
	case StateTransmitting:
		return "transmitting"
	case StateCommitting:
		return "committing"
	case StateSuspending:
		return "suspending"
	case StateErrorHandling:
		return "error-handling"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// OutcomeKind tells Run what to do once an episode is over.
type OutcomeKind uint8

const (
	OutcomeSuspend OutcomeKind = iota
	OutcomeRestart
	OutcomeHalt
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuspend:
		return "suspend"
	case OutcomeRestart:
		return "restart"
	case OutcomeHalt:
		return "halt"
	}
	return fmt.Sprintf("outcome(%d)", uint8(k))
}

// Outcome is the result of one episode. Sleep is only set for OutcomeSuspend.
type Outcome struct {
	Kind    OutcomeKind
	Sleep   time.Duration
	Mode    entities.Mode
	Frame   entities.Frame
	Failure *entities.Failure
}

type ContextStore interface {
	Restore() (entities.PersistentContext, error)
	Commit(c *entities.PersistentContext, session entities.Session) error
}

type Collector interface {
	Collect(ctx context.Context, channels []entities.Channel) (entities.ReadingSet, error)
}

type Link interface {
	Reset()
	Connect(ctx context.Context, session entities.Session, dr entities.DataRate) (entities.Session, error)
	Transmit(ctx context.Context, frame entities.Frame, dr entities.DataRate) error
	Session() (entities.Session, error)
}

type Escalator interface {
	Escalate(ctx context.Context, pctx entities.PersistentContext, failure *entities.Failure) escalation.Decision
}

// Platform is the hardware around the episode: clock, low power modes and
// the fault indicator.
type Platform interface {
	WakeCause() entities.WakeCause
	WokeAt() time.Time
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
	Suspend(ctx context.Context, d time.Duration, sources []entities.WakeSource) error
	Restart(ctx context.Context)
	Alert(ctx context.Context)
}

type StatusSink interface {
	Show(lines []entities.Line)
}

type Timing struct {
	Interval time.Duration
	Margin   time.Duration
	WarmUp   time.Duration
	MaxAwake time.Duration
	Display  time.Duration
}

func TimingFromConfig(conf entities.TimingConfig) Timing {
	return Timing{
		Interval: conf.Interval(),
		Margin:   conf.Margin(),
		WarmUp:   conf.WarmUp(),
		MaxAwake: conf.MaxAwake(),
		Display:  conf.Display(),
	}
}

type Dependencies struct {
	Store     ContextStore
	Codec     *codec.Codec
	Collector Collector
	Link      Link
	Escalator Escalator
	Platform  Platform
	Status    StatusSink
}

// Controller runs wake episodes back to back. It is not safe for concurrent
// use; there is only ever one episode in flight.
type Controller struct {
	nodeID string
	timing Timing
	Dependencies
	log   *logrus.Entry
	chain stateHandler
}

var wakeSources = []entities.WakeSource{entities.WakeSourceTimer, entities.WakeSourceButton}

func New(nodeID string, timing Timing, deps Dependencies, log *logrus.Entry) *Controller {
	c := &Controller{nodeID: nodeID, timing: timing, Dependencies: deps, log: log}
	c.chain = buildStateChain(c)
	return c
}

// Run executes episodes until ctx ends or the node gives up. It is the only
// place that acts on an Outcome.
func (c *Controller) Run(ctx context.Context) error {
	for {
		out := c.RunEpisode(ctx)
		switch out.Kind {
		case OutcomeSuspend:
			c.log.WithField("sleep", out.Sleep).Info("suspending")
			if err := c.Platform.Suspend(ctx, out.Sleep, wakeSources); err != nil {
				return err
			}
		case OutcomeRestart:
			c.log.Warn("restarting node")
			c.Platform.Restart(ctx)
		case OutcomeHalt:
			c.log.WithError(out.Failure).Error("node halted, fault indicator on")
			c.Platform.Alert(ctx)
			return out.Failure
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// RunEpisode walks the state machine once, from Init to either Suspending or
// ErrorHandling. Every blocking call is bounded by the awake budget.
func (c *Controller) RunEpisode(ctx context.Context) Outcome {
	deadline := c.Platform.WokeAt().Add(c.timing.MaxAwake)
	episodeCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ep := &episode{
		state:  StateInit,
		ctx:    episodeCtx,
		runCtx: ctx,
		cause:  c.Platform.WakeCause(),
		log:    c.log.WithField("wake", c.Platform.WakeCause()),
	}
	for ep.state != stateDone {
		c.chain.execute(ep)
	}
	return ep.outcome
}
