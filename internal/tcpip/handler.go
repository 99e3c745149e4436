package tcpip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// EventHandler dispatches NetworkEvents against the socket table and TCB
// table, driving segments down to an IPSink. This replaces
// original_source/src/net/endpoint/handler.rs's NetworkEventHandler,
// whose send_tcp_segment/handle_listen/handle_close were left as stubs
// with "integrate with IP layer" TODOs — here they're wired to a real
// IPSink instead.
type EventHandler struct {
	sockets *SocketManager
	tcbs    *TCBTable
	queue   *EventQueue
	sink    IPSink
	clock   Clock
	log     *slog.Logger
}

// NewEventHandler wires a handler from its collaborators. log may be nil,
// in which case slog.Default() is used.
func NewEventHandler(sockets *SocketManager, tcbs *TCBTable, queue *EventQueue, sink IPSink, clock Clock, log *slog.Logger) *EventHandler {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = SystemClock
	}
	return &EventHandler{sockets: sockets, tcbs: tcbs, queue: queue, sink: sink, clock: clock, log: log}
}

// Run drives the dispatcher and the periodic TCB sweep concurrently
// until ctx is canceled or either goroutine returns an error.
func (h *EventHandler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.dispatchLoop(ctx) })
	g.Go(func() error { return h.tickLoop(ctx) })
	return g.Wait()
}

func (h *EventHandler) dispatchLoop(ctx context.Context) error {
	for {
		ev, err := h.queue.Recv(ctx)
		if err != nil {
			return nil
		}
		if err := h.HandleEvent(ev); err != nil {
			if errors.Is(err, ErrARPPending) {
				h.log.Debug("event deferred pending ARP resolution", "kind", ev.Kind.String(), "fd", ev.FD)
			} else {
				h.log.Warn("event handling failed", "kind", ev.Kind.String(), "fd", ev.FD, "error", err)
			}
		}
	}
}

func (h *EventHandler) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			h.runSweep(now)
		}
	}
}

func (h *EventHandler) runSweep(now time.Time) {
	for _, decision := range h.tcbs.Tick(now) {
		if decision.Abort {
			h.log.Warn("connection aborted after retransmit/probe exhaustion",
				"local", decision.TCB.Local.String(), "remote", decision.TCB.Remote.String())
			h.abortConnection(decision.TCB)
			continue
		}
		if decision.Data != nil {
			if err := h.sendTCPSegment(decision.TCB, decision.Seq, decision.TCB.RcvNxt, FlagACK, decision.Data); err != nil {
				h.log.Warn("retransmit send failed", "remote", decision.TCB.Remote.String(), "error", err)
			}
		}
	}
}

// HandleEvent dispatches a single event to the appropriate handler.
func (h *EventHandler) HandleEvent(ev NetworkEvent) error {
	switch ev.Kind {
	case EventDataReady:
		return h.handleDataReady(ev)
	case EventConnect:
		return h.handleConnect(ev)
	case EventListen:
		return h.handleListen(ev)
	case EventClose:
		return h.handleClose(ev)
	case EventSendTo:
		return h.handleSendTo(ev)
	default:
		return fmt.Errorf("unknown event kind %v", ev.Kind)
	}
}

func (h *EventHandler) handleDataReady(ev NetworkEvent) error {
	sock, ok := h.sockets.Get(ev.FD)
	if !ok {
		return ErrNotFound
	}
	if !sock.State.CanRead() {
		return ErrInvalidStateTransition
	}
	return nil
}

func (h *EventHandler) handleConnect(ev NetworkEvent) error {
	sock, ok := h.sockets.Get(ev.FD)
	if !ok {
		return ErrNotFound
	}
	if !sock.State.CanConnect() {
		return ErrInvalidStateTransition
	}

	tcb := NewTCB(ev.FD, ev.Local, ev.Remote, defaultMSS)
	tcb.InitializeSeq(h.tcbs.GenerateISN())
	tcb.State = TCPSynSent
	h.tcbs.Insert(tcb)

	sock.Local = ev.Local
	sock.Remote = ev.Remote
	sock.State = StateConnecting

	options := h.synOptions(tcb)
	if err := h.sendTCPSegmentOpts(tcb, tcb.SndNxt, 0, FlagSYN, nil, options); err != nil {
		return err
	}
	tcb.OnSend(1, h.clock.Now())
	return nil
}

func (h *EventHandler) handleListen(ev NetworkEvent) error {
	sock, ok := h.sockets.Get(ev.FD)
	if !ok {
		return ErrNotFound
	}
	if !sock.State.CanListen() {
		return ErrInvalidStateTransition
	}
	sock.State = StateListening
	return nil
}

func (h *EventHandler) handleClose(ev NetworkEvent) error {
	sock, ok := h.sockets.Get(ev.FD)
	if !ok {
		return ErrNotFound
	}

	if tcb, ok := h.tcbs.LookupByFD(ev.FD); ok {
		switch tcb.State {
		case TCPEstablished:
			tcb.State = TCPFinWait1
			if err := h.sendTCPSegment(tcb, tcb.SndNxt, tcb.RcvNxt, FlagFIN|FlagACK, nil); err != nil {
				return err
			}
			tcb.OnSend(1, h.clock.Now())
		case TCPCloseWait:
			tcb.State = TCPLastAck
			if err := h.sendTCPSegment(tcb, tcb.SndNxt, tcb.RcvNxt, FlagFIN|FlagACK, nil); err != nil {
				return err
			}
			tcb.OnSend(1, h.clock.Now())
		default:
			h.tcbs.Remove(tcb.Local, tcb.Remote)
		}
	}

	sock.State = StateClosing
	h.sockets.Unregister(ev.FD)
	return nil
}

func (h *EventHandler) handleSendTo(ev NetworkEvent) error {
	sock, ok := h.sockets.Get(ev.FD)
	if !ok {
		return ErrNotFound
	}
	if sock.Type != SocketTypeUDP {
		return ErrInvalidArgument
	}
	if !h.sink.SendIPv4(ev.Remote.IP, udpProtocolNumber, ev.Data) {
		return ErrARPPending
	}
	return nil
}

func (h *EventHandler) abortConnection(tcb *TCB) {
	_ = h.sendTCPSegment(tcb, tcb.SndNxt, tcb.RcvNxt, FlagRST, nil)
	h.tcbs.Remove(tcb.Local, tcb.Remote)
	if sock, ok := h.sockets.Get(tcb.FD); ok {
		sock.State = StateClosed
	}
}

func (h *EventHandler) synOptions(tcb *TCB) []byte {
	var buf [optionsBufferLen]byte
	return buildOptions(&buf, tcb.MSS, tcb.WindowScale.RcvScale, tcb.WindowScale.Enabled, true)
}

// sendTCPSegment builds and transmits one TCP segment for tcb via the
// configured IPSink.
func (h *EventHandler) sendTCPSegment(tcb *TCB, seq, ack uint32, flags TCPFlags, data []byte) error {
	return h.sendTCPSegmentOpts(tcb, seq, ack, flags, data, nil)
}

// sendTCPSegmentOpts is sendTCPSegment with an explicit TCP options area,
// used for SYN/SYN-ACK segments that must carry MSS/window-scale/SACK.
func (h *EventHandler) sendTCPSegmentOpts(tcb *TCB, seq, ack uint32, flags TCPFlags, data, options []byte) error {
	builder := NewSegmentBuilder(tcb.Local.Port, tcb.Remote.Port).
		Seq(seq).Ack(ack).Flags(flags).
		Window(tcb.AdvertisedRecvWindow()).
		Options(options).
		Data(data)
	segment := builder.Build(tcb.Local.IP, tcb.Remote.IP)
	if !h.sink.SendIPv4(tcb.Remote.IP, tcpProtocolNumber, segment) {
		return ErrARPPending
	}
	return nil
}

// udpProtocolNumber is IANA protocol number 17.
const udpProtocolNumber = 17
