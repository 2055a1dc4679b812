// Package control bridges the dictation orchestrator and the message bus:
// it answers command and status requests and publishes lifecycle events.
package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/bus"
	"github.com/loqalabs/loqa-dictation/internal/dictation"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Controller is the part of the orchestrator the bus may drive.
type Controller interface {
	Submit(ctx context.Context, cmd dictation.Command) (dictation.State, error)
	Status() dictation.Status
}

// Publisher sends events on the bus. *bus.Client implements it.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

type Service struct {
	ctrl        Controller
	bus         *bus.Client
	logger      *slog.Logger
	timeout     time.Duration
	subCommands *nats.Subscription
	subStatus   *nats.Subscription
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewService(parent context.Context, ctrl Controller, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		ctrl:    ctrl,
		bus:     busClient,
		logger:  logger.With(slog.String("component", "control")),
		timeout: 2 * time.Second,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectCommand, s.handleCommand)
	if err != nil {
		return err
	}
	s.subCommands = sub

	subStatus, err := s.bus.Conn().Subscribe(protocol.SubjectStatus, s.handleStatus)
	if err != nil {
		s.subCommands.Drain()
		return err
	}
	s.subStatus = subStatus
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subCommands != nil {
		_ = s.subCommands.Drain()
	}
	if s.subStatus != nil {
		_ = s.subStatus.Drain()
	}
}

func (s *Service) Healthy() bool {
	return s.subCommands != nil && s.subStatus != nil
}

// EventPublisher forwards orchestrator events to dictation.session.<kind>.
type EventPublisher struct {
	pub    Publisher
	logger *slog.Logger
}

func NewEventPublisher(pub Publisher, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{pub: pub, logger: logger.With(slog.String("component", "control"))}
}

func (p *EventPublisher) Publish(e dictation.Event) {
	if err := p.pub.PublishJSON(protocol.SessionSubject(string(e.Kind)), e.Message()); err != nil {
		p.logger.Warn("failed to publish session event",
			slog.String("kind", string(e.Kind)),
			slog.String("session_id", e.SessionID),
			slogError(err))
	}
}

func (s *Service) handleCommand(msg *nats.Msg) {
	var req protocol.CommandRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("control failed to decode command", slogError(err))
		s.respond(msg, protocol.CommandReply{State: s.ctrl.Status().State.String(), Error: "invalid request"})
		return
	}
	s.respond(msg, s.apply(req))
}

func (s *Service) apply(req protocol.CommandRequest) protocol.CommandReply {
	cmd, err := dictation.ParseCommand(req.Command)
	if err != nil {
		return protocol.CommandReply{State: s.ctrl.Status().State.String(), Error: err.Error()}
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	st, err := s.ctrl.Submit(ctx, cmd)
	reply := protocol.CommandReply{State: st.String(), SessionID: s.ctrl.Status().SessionID}
	if err != nil {
		reply.Error = err.Error()
	}
	s.logger.Debug("command applied",
		slog.String("command", cmd.String()),
		slog.String("source", req.Source),
		slog.String("state", reply.State))
	return reply
}

func (s *Service) handleStatus(msg *nats.Msg) {
	s.respond(msg, s.ctrl.Status().Message())
}

func (s *Service) respond(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("control failed to marshal reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("control failed to send reply", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
