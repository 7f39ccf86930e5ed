// Package demo wires engines into the runnable scenarios served by the
// hsmx command: a device connection manager, a staged workflow and a
// cross-module flow.
package demo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/comalice/hsmx"
	"github.com/comalice/hsmx/builder"
	"github.com/comalice/hsmx/internal/config"
	"github.com/comalice/hsmx/internal/source"
)

// Device connection states.
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusReconnecting = "reconnecting"
	StatusError        = "error"
)

// Event names exchanged between devices, the scheduler and the controller.
const (
	EventDeviceStatus = "device_status"
	EventDeviceError  = "device_error"
	EventConnect      = "connect"
	EventHealthCheck  = "health_check"
)

// Controller vars.
const (
	VarReports      = "reports"
	VarErrors       = "errors"
	VarReconnects   = "reconnects"
	VarHealthChecks = "health_checks"
)

// DeviceReport is the snapshot a device posts to its controller.
type DeviceReport struct {
	ID      string
	Address string
	Status  string
	Retries int
	Uptime  time.Duration
}

// DeviceVar is the controller var holding the last status seen for id.
func DeviceVar(id string) string {
	return "device." + id
}

// DeviceManager is a controller engine monitoring a set of device engines.
// The controller and the scheduler that stages connection requests share
// one loop; every device runs on its own.
type DeviceManager struct {
	Controller *hsmx.Engine
	Scheduler  *hsmx.Engine
	Devices    []*hsmx.Engine

	cfg  config.DevicesConfig
	loop *hsmx.Loop
}

// NewDeviceManager builds the controller, scheduler and cfg.Count devices.
// opts apply to every engine and must not include WithLoop or WithParent.
func NewDeviceManager(cfg config.DevicesConfig, opts ...hsmx.Option) (*DeviceManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &DeviceManager{
		cfg:  cfg,
		loop: hsmx.NewLoop("main"),
	}

	ctrl, err := hsmx.NewBuilder("controller").
		With(opts...).
		Loop(m.loop).
		State("monitoring", controllerHandler(), nil).
		Initial("monitoring").
		Build()
	if err != nil {
		return nil, err
	}
	m.Controller = ctrl

	for i := 0; i < cfg.Count; i++ {
		d := &device{
			id:      fmt.Sprintf("Device-%03d", i+1),
			address: fmt.Sprintf("192.168.1.%d:8080", 101+i),
			cfg:     cfg,
			rng:     rand.New(rand.NewPCG(cfg.Seed, uint64(i))),
		}
		e, err := hsmx.NewBuilder(d.id).
			With(opts...).
			Parent(ctrl).
			State(StatusDisconnected, d.disconnected(), d).
			State(StatusConnecting, d.connecting(), d).
			State(StatusConnected, d.connected(), d).
			State(StatusReconnecting, d.reconnecting(), d).
			State(StatusError, d.failed(), d).
			Initial(StatusDisconnected).
			Build()
		if err != nil {
			return nil, err
		}
		m.Devices = append(m.Devices, e)
	}

	sched := &scheduler{manager: m}
	m.Scheduler, err = hsmx.NewBuilder("scheduler").
		With(opts...).
		Loop(m.loop).
		State("running", sched.handler(), nil).
		Initial("running").
		Build()
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Engines returns every engine of the manager.
func (m *DeviceManager) Engines() []*hsmx.Engine {
	out := []*hsmx.Engine{m.Controller, m.Scheduler}
	return append(out, m.Devices...)
}

// Run starts the devices and runs the shared loop on the calling goroutine
// until the scheduler stops the controller after cfg.RunFor, or ctx ends.
// It returns ctx.Err() in the latter case.
func (m *DeviceManager) Run(ctx context.Context) error {
	for _, d := range m.Devices {
		if err := d.Start(ctx); err != nil {
			return err
		}
	}
	health := source.NewTicker(m.Controller,
		hsmx.NewEvent(hsmx.EventStep, EventHealthCheck, nil).WithSource("health"),
		m.cfg.HealthInterval)
	defer health.Stop()

	return m.Controller.Run(ctx)
}

// Statuses returns the current state of every device keyed by device name.
func (m *DeviceManager) Statuses() map[string]string {
	out := make(map[string]string, len(m.Devices))
	for _, d := range m.Devices {
		out[d.Name()] = d.State()
	}
	return out
}

// Close destroys every engine, devices first.
func (m *DeviceManager) Close() {
	for _, d := range m.Devices {
		d.Destroy()
	}
	m.Scheduler.Destroy()
	m.Controller.Destroy()
}

func controllerHandler() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, _ hsmx.Event) {
			s.Logger().Info("device controller started")
		}),
		builder.OnNamed(hsmx.EventStep, EventDeviceStatus, onDeviceStatus),
		builder.OnNamed(hsmx.EventResultError, EventDeviceError, onDeviceStatus),
		builder.OnNamed(hsmx.EventStep, EventHealthCheck, builder.Consume(onHealthCheck)),
	)
}

func onDeviceStatus(s *hsmx.Scope, ev hsmx.Event) bool {
	report, ok := hsmx.Payload[DeviceReport](ev)
	if !ok {
		return false
	}
	vars := s.Vars()
	vars.Set(DeviceVar(ev.Source), report.Status)
	vars.Incr(VarReports)
	switch {
	case ev.Type == hsmx.EventResultError:
		vars.Incr(VarErrors)
		s.Logger().Warn("device failed", "device", ev.Source, "retries", report.Retries)
	case report.Status == StatusReconnecting:
		vars.Incr(VarReconnects)
		s.Logger().Info("device reconnecting", "device", ev.Source, "retries", report.Retries)
	default:
		s.Logger().Info("device status", "device", ev.Source, "status", report.Status, "uptime", report.Uptime)
	}
	return true
}

func onHealthCheck(s *hsmx.Scope, ev hsmx.Event) {
	vars := s.Vars()
	vars.Incr(VarHealthChecks)
	counts := make(map[string]int)
	for key, v := range vars.Snapshot() {
		if status, ok := v.(string); ok && strings.HasPrefix(key, DeviceVar("")) {
			counts[status]++
		}
	}
	s.Logger().Info("health check", "tick", ev.Seq,
		"connected", counts[StatusConnected], "error", counts[StatusError])
}

// device holds per-device state. It is only touched on the device's loop.
type device struct {
	id      string
	address string
	cfg     config.DevicesConfig
	rng     *rand.Rand

	retries     int
	missed      int
	pending     int
	heartbeat   int
	connectedAt time.Time
}

func (d *device) report(s *hsmx.Scope, t hsmx.EventType, name string) {
	r := DeviceReport{
		ID:      d.id,
		Address: d.address,
		Status:  s.State(),
		Retries: d.retries,
	}
	if s.State() == StatusConnected {
		r.Uptime = time.Since(d.connectedAt)
	}
	s.PostParent(hsmx.NewEvent(t, name, r).WithSource(d.id))
}

func (d *device) cancelPending(s *hsmx.Scope, _ hsmx.Event) {
	if d.pending > 0 {
		s.Cancel(d.pending)
		d.pending = 0
	}
}

func (d *device) cancelHeartbeat(s *hsmx.Scope, _ hsmx.Event) {
	if d.heartbeat > 0 {
		s.Cancel(d.heartbeat)
		d.heartbeat = 0
	}
}

func (d *device) disconnected() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, ev hsmx.Event) {
			d.cancelHeartbeat(s, ev)
			d.report(s, hsmx.EventStep, EventDeviceStatus)
		}),
		builder.Do(hsmx.EventStart, func(s *hsmx.Scope, _ hsmx.Event) {
			s.Logger().Info("connect requested", "address", d.address)
			d.retries = 0
			s.ChangeState(StatusConnecting)
		}),
	)
}

func (d *device) connecting() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, _ hsmx.Event) {
			s.Logger().Info("connecting", "address", d.address)
			d.pending = s.Schedule(d.cfg.ConnectDelay)
		}),
		builder.Do(hsmx.EventTimeout, func(s *hsmx.Scope, ev hsmx.Event) {
			if ev.Seq != d.pending {
				return
			}
			d.pending = 0
			if d.rng.Float64() < d.cfg.ConnectSuccess {
				s.ChangeState(StatusConnected)
				return
			}
			if d.retries < d.cfg.MaxRetries {
				d.retries++
				s.Logger().Warn("connect failed, retrying", "retry", d.retries, "max", d.cfg.MaxRetries)
				s.ChangeState(StatusReconnecting)
				return
			}
			s.Logger().Error("connect failed, retries exhausted", "max", d.cfg.MaxRetries)
			s.ChangeState(StatusError)
		}),
		builder.Do(hsmx.EventCancel, builder.GoTo(StatusDisconnected)),
		builder.OnExit(d.cancelPending),
	)
}

func (d *device) connected() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, _ hsmx.Event) {
			d.retries = 0
			d.missed = 0
			d.connectedAt = time.Now()
			d.heartbeat = s.Schedule(d.cfg.Heartbeat)
			d.report(s, hsmx.EventStep, EventDeviceStatus)
		}),
		builder.Do(hsmx.EventTimeout, func(s *hsmx.Scope, ev hsmx.Event) {
			if ev.Seq != d.heartbeat {
				return
			}
			d.heartbeat = 0
			if d.rng.Float64() < d.cfg.HeartbeatSuccess {
				d.missed = 0
				s.Logger().Debug("heartbeat ok", "uptime", time.Since(d.connectedAt))
			} else {
				d.missed++
				s.Logger().Warn("heartbeat missed", "missed", d.missed)
				if d.missed >= d.cfg.MaxMissedBeats {
					s.ChangeState(StatusReconnecting)
					return
				}
			}
			d.heartbeat = s.Schedule(d.cfg.Heartbeat)
		}),
		builder.Do(hsmx.EventCancel, builder.GoTo(StatusDisconnected)),
		builder.OnExit(d.cancelHeartbeat),
	)
}

func (d *device) reconnecting() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, _ hsmx.Event) {
			d.pending = s.Schedule(d.cfg.RetryDelay)
			d.report(s, hsmx.EventStep, EventDeviceStatus)
		}),
		builder.Do(hsmx.EventTimeout, func(s *hsmx.Scope, ev hsmx.Event) {
			if ev.Seq != d.pending {
				return
			}
			d.pending = 0
			s.ChangeState(StatusConnecting)
		}),
		builder.Do(hsmx.EventCancel, builder.GoTo(StatusDisconnected)),
		builder.OnExit(d.cancelPending),
	)
}

func (d *device) failed() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, _ hsmx.Event) {
			d.report(s, hsmx.EventResultError, EventDeviceError)
		}),
		builder.Do(hsmx.EventStart, func(s *hsmx.Scope, _ hsmx.Event) {
			s.Logger().Info("restarting from error")
			d.retries = 0
			s.ChangeState(StatusConnecting)
		}),
	)
}

// scheduler posts START to one device per StartSpacing and stops the
// controller once RunFor has elapsed. It runs on the controller's loop.
type scheduler struct {
	manager *DeviceManager
	step    int
}

func (sc *scheduler) handler() hsmx.Handler {
	cfg := sc.manager.cfg
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, _ hsmx.Event) {
			sc.step = 0
			s.Schedule(cfg.StartSpacing)
		}),
		builder.Do(hsmx.EventTimeout, func(s *hsmx.Scope, _ hsmx.Event) {
			devices := sc.manager.Devices
			sc.step++
			if sc.step > len(devices) {
				s.Logger().Info("run time elapsed, stopping controller")
				sc.manager.Controller.Stop()
				return
			}

			target := devices[sc.step-1]
			s.Logger().Info("staging connect", "device", target.Name())
			target.Post(hsmx.NewEvent(hsmx.EventStart, EventConnect, nil).WithSource(s.Engine().Name()))

			if sc.step < len(devices) {
				s.Schedule(cfg.StartSpacing)
				return
			}
			rest := cfg.RunFor - time.Duration(len(devices))*cfg.StartSpacing
			s.Schedule(max(rest, time.Millisecond))
		}),
	)
}
