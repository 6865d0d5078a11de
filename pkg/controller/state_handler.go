package controller

import (
	"context"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/escalation"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/schedule"
	"github.com/sirupsen/logrus"
)

// episode is the working state of a single wake.
type episode struct {
	state    State
	ctx      context.Context
	runCtx   context.Context
	cause    entities.WakeCause
	pctx     entities.PersistentContext
	mode     entities.Mode
	dr       entities.DataRate
	readings entities.ReadingSet
	frame    entities.Frame
	session  entities.Session
	failure  *entities.Failure
	outcome  Outcome
	log      *logrus.Entry
}

func (ep *episode) moveTo(next State) {
	ep.log.WithFields(logrus.Fields{"from": ep.state, "to": next}).Debug("state transition")
	ep.state = next
}

func (ep *episode) fail(kind entities.FailureKind, err error) {
	if f, ok := entities.AsFailure(err); ok {
		ep.failure = f
	} else {
		ep.failure = entities.NewFailure(kind, err)
	}
	ep.moveTo(StateErrorHandling)
}

type stateHandler interface {
	execute(ep *episode)
	setNext(stateHandler)
}

type baseState struct {
	next stateHandler
	c    *Controller
}

func (bs *baseState) setNext(next stateHandler) {
	bs.next = next
}

func buildStateChain(c *Controller) stateHandler {
	handlers := []stateHandler{
		&initStateHandler{baseState{c: c}},
		&sensingStateHandler{baseState{c: c}},
		&encodingStateHandler{baseState{c: c}},
		&joiningStateHandler{baseState{c: c}},
		&transmittingStateHandler{baseState{c: c}},
		&committingStateHandler{baseState{c: c}},
		&suspendingStateHandler{baseState{c: c}},
		&errorStateHandler{baseState{c: c}},
		&unknownStateHandler{baseState{c: c}},
	}
	for i := 0; i < len(handlers)-1; i++ {
		handlers[i].setNext(handlers[i+1])
	}
	return handlers[0]
}

type initStateHandler struct {
	baseState
}

func (h *initStateHandler) execute(ep *episode) {
	if ep.state != StateInit {
		h.next.execute(ep)
		return
	}
	h.c.Link.Reset()
	pctx, err := h.c.Store.Restore()
	ep.pctx = pctx
	h.c.showBanner(pctx.FirmwareVersion)
	if err != nil {
		ep.fail(entities.FailurePersistentStoreCorruption, err)
		return
	}
	ep.mode, ep.dr = schedule.Select(pctx.FrameCounter, ep.cause, pctx.Schedule)
	ep.log = ep.log.WithFields(logrus.Fields{"counter": pctx.FrameCounter, "mode": ep.mode, "sf": ep.dr.SpreadingFactor()})
	ep.log.Info("episode started")
	ep.moveTo(StateSensing)
}

type sensingStateHandler struct {
	baseState
}

func (h *sensingStateHandler) execute(ep *episode) {
	if ep.state != StateSensing {
		h.next.execute(ep)
		return
	}
	layout, err := h.c.Codec.Layout(ep.mode)
	if err != nil {
		ep.fail(entities.FailureFrameSizeExceeded, err)
		return
	}
	if ep.mode == entities.ModeRich && h.c.timing.WarmUp > 0 {
		ep.log.WithField("warmUp", h.c.timing.WarmUp).Debug("waiting for sensors to warm up")
		if err := h.c.Platform.Sleep(ep.ctx, h.c.timing.WarmUp); err != nil {
			ep.fail(entities.FailureSensorTimeout, err)
			return
		}
	}

	measured := make([]entities.Channel, 0, len(layout.Channels))
	for _, ch := range layout.Channels {
		if !fromContext(ch) {
			measured = append(measured, ch)
		}
	}
	values, err := h.c.Collector.Collect(ep.ctx, measured)
	if err != nil {
		ep.fail(entities.FailureSensorTimeout, err)
		return
	}

	readings := make(entities.ReadingSet, 0, len(layout.Channels))
	for _, ch := range layout.Channels {
		var v float64
		switch ch {
		case entities.ChannelFirmwareVersion:
			v = float64(ep.pctx.FirmwareVersion)
		case entities.ChannelErrorCode:
			v = float64(ep.pctx.LastFault)
		default:
			v, _ = values.Value(ch)
		}
		readings = append(readings, entities.Reading{Channel: ch, Value: v})
	}
	ep.readings = readings
	ep.moveTo(StateEncoding)
}

// fromContext reports channels filled from the persistent context instead of
// a sensor.
func fromContext(ch entities.Channel) bool {
	return ch == entities.ChannelFirmwareVersion || ch == entities.ChannelErrorCode
}

type encodingStateHandler struct {
	baseState
}

func (h *encodingStateHandler) execute(ep *episode) {
	if ep.state != StateEncoding {
		h.next.execute(ep)
		return
	}
	frame, err := h.c.Codec.Encode(ep.mode, ep.readings)
	if err != nil {
		ep.fail(entities.FailureFrameSizeExceeded, err)
		return
	}
	ep.frame = frame
	ep.moveTo(StateJoining)
}

type joiningStateHandler struct {
	baseState
}

func (h *joiningStateHandler) execute(ep *episode) {
	if ep.state != StateJoining {
		h.next.execute(ep)
		return
	}
	session, err := h.c.Link.Connect(ep.ctx, ep.pctx.Session, ep.dr)
	if err != nil {
		h.c.showNoConnection()
		ep.fail(entities.FailureRadioJoinTimeout, err)
		return
	}
	ep.session = session
	ep.moveTo(StateTransmitting)
}

type transmittingStateHandler struct {
	baseState
}

func (h *transmittingStateHandler) execute(ep *episode) {
	if ep.state != StateTransmitting {
		h.next.execute(ep)
		return
	}
	if err := h.c.Link.Transmit(ep.ctx, ep.frame, ep.dr); err != nil {
		h.c.showNoConnection()
		ep.fail(entities.FailureRadioSendFailure, err)
		return
	}
	ep.moveTo(StateCommitting)
}

type committingStateHandler struct {
	baseState
}

func (h *committingStateHandler) execute(ep *episode) {
	if ep.state != StateCommitting {
		h.next.execute(ep)
		return
	}
	session, err := h.c.Link.Session()
	if err != nil {
		ep.log.WithError(err).Warn("radio session not readable, keeping the joined one")
		session = ep.session
	}
	if err := h.c.Store.Commit(&ep.pctx, session); err != nil {
		ep.fail(entities.FailurePersistentStoreCorruption, err)
		return
	}
	ep.log.WithField("next", ep.pctx.FrameCounter).Info("frame committed")
	h.c.showReadings(ep.ctx, ep.mode, ep.readings)
	ep.moveTo(StateSuspending)
}

type suspendingStateHandler struct {
	baseState
}

func (h *suspendingStateHandler) execute(ep *episode) {
	if ep.state != StateSuspending {
		h.next.execute(ep)
		return
	}
	elapsed := h.c.Platform.Now().Sub(h.c.Platform.WokeAt())
	ep.outcome = Outcome{
		Kind:  OutcomeSuspend,
		Sleep: schedule.SleepFor(h.c.timing.Interval, elapsed, h.c.timing.Margin),
		Mode:  ep.mode,
		Frame: ep.frame,
	}
	ep.moveTo(stateDone)
}

type errorStateHandler struct {
	baseState
}

func (h *errorStateHandler) execute(ep *episode) {
	if ep.state != StateErrorHandling {
		h.next.execute(ep)
		return
	}
	// the episode deadline may be what failed, the diagnostic gets the run context
	decision := h.c.Escalator.Escalate(ep.runCtx, ep.pctx, ep.failure)
	ep.outcome = Outcome{Mode: ep.mode, Failure: ep.failure}
	if decision.Action == escalation.Restart {
		ep.outcome.Kind = OutcomeRestart
	} else {
		ep.outcome.Kind = OutcomeHalt
	}
	ep.moveTo(stateDone)
}

type unknownStateHandler struct {
	baseState
}

func (h *unknownStateHandler) execute(ep *episode) {
	ep.log.WithField("state", ep.state).Error("no handler for state")
	ep.fail(entities.FailurePersistentStoreCorruption, nil)
}
