package tcpip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Stack is the top-level TCP/IP endpoint layer: it owns the socket
// table, the TCB table, the event queue, and the handler loop that
// drains them, wiring everything to a caller-supplied IPSink. It plays
// the role the teacher's NetStack struct plays for its own (much
// smaller) in-VM network, generalized to this spec's socket/TCB/event
// architecture.
type Stack struct {
	log *slog.Logger
	cfg Config

	sockets *SocketManager
	tcbs    *TCBTable
	queue   *EventQueue
	handler *EventHandler

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	debugMu       sync.Mutex
	debugSrv      *http.Server
	debugListener net.Listener
	debugAddr     string
	debugWG       sync.WaitGroup
}

// New constructs a Stack wired to sink for outbound traffic. log may be
// nil, in which case slog.Default() is used.
func New(cfg Config, sink IPSink, log *slog.Logger) *Stack {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		log.Warn("invalid tcpip config, falling back to defaults", "error", err)
		cfg = DefaultConfig()
	}

	sockets := NewSocketManager()
	tcbs := NewTCBTable(cfg.MaxRetransmitsPerSweep)
	queue := NewEventQueue()
	handler := NewEventHandler(sockets, tcbs, queue, sink, SystemClock, log)

	return &Stack{
		log:     log,
		cfg:     cfg,
		sockets: sockets,
		tcbs:    tcbs,
		queue:   queue,
		handler: handler,
	}
}

// Start launches the handler's dispatch and sweep loops in the
// background. Safe to call at most once.
func (s *Stack) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.handler.Run(ctx); err != nil {
			s.log.Warn("tcpip handler loop exited", "error", err)
		}
	}()
}

// Close stops the handler loop and debug server and waits for them to
// exit. Idempotent.
func (s *Stack) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		s.debugMu.Lock()
		srv := s.debugSrv
		ln := s.debugListener
		s.debugSrv = nil
		s.debugListener = nil
		s.debugAddr = ""
		s.debugMu.Unlock()

		if ln != nil {
			_ = ln.Close()
		}
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(ctx)
			cancel()
		}
		s.debugWG.Wait()
	})
	return nil
}

// EnableDebugHTTP starts a JSON debug server at addr, exposing
// /debug/tcb (per-connection snapshots, consumable by cmd/tcpstat) and
// /debug/sockets (descriptor counts by type).
func (s *Stack) EnableDebugHTTP(addr string) error {
	if addr == "" {
		return nil
	}

	s.debugMu.Lock()
	defer s.debugMu.Unlock()

	if s.debugSrv != nil {
		return fmt.Errorf("debug http already enabled at %s", s.debugAddr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen debug http: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/tcb", s.handleDebugTCB)
	mux.HandleFunc("/debug/sockets", s.handleDebugSockets)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.debugSrv = srv
	s.debugListener = ln
	s.debugAddr = ln.Addr().String()

	s.debugWG.Add(1)
	go func() {
		defer s.debugWG.Done()
		if err := srv.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) &&
			!errors.Is(err, net.ErrClosed) {
			s.log.Warn("tcpip debug http serve", "error", err)
		}
	}()

	s.log.Info("tcpip debug http listening", "addr", s.debugAddr)
	return nil
}

// DebugHTTPAddr returns the bound address of the debug HTTP server, or
// the empty string if it was never enabled.
func (s *Stack) DebugHTTPAddr() string {
	s.debugMu.Lock()
	defer s.debugMu.Unlock()
	return s.debugAddr
}

func (s *Stack) handleDebugTCB(w http.ResponseWriter, r *http.Request) {
	var snapshots []TCBSnapshot
	s.tcbs.ForEach(func(tcb *TCB) { snapshots = append(snapshots, tcb.Snapshot()) })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshots); err != nil {
		s.log.Warn("tcpip debug tcb encode", "error", err)
	}
}

func (s *Stack) handleDebugSockets(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	s.sockets.ForEach(func(sock *Socket) { counts[sock.Type.String()]++ })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(counts); err != nil {
		s.log.Warn("tcpip debug sockets encode", "error", err)
	}
}

// Sockets exposes the socket manager for application-facing socket
// syscalls (socket/bind/listen/connect/close).
func (s *Stack) Sockets() *SocketManager { return s.sockets }

// TCBs exposes the TCB table, primarily for metrics and debug tooling.
func (s *Stack) TCBs() *TCBTable { return s.tcbs }

// Enqueue submits a NetworkEvent for asynchronous handling.
func (s *Stack) Enqueue(ev NetworkEvent) error {
	return s.queue.Send(ev)
}

// DeliverInbound decodes an inbound IPv4 TCP segment and folds it into
// the matching connection's TCB, queuing a DataReady event if it carries
// payload. It is the counterpart of IPSink from the receive direction:
// whatever demultiplexes IPv4 traffic into TCP vs UDP vs ICMP calls this
// once it has isolated a TCP segment for one of this stack's local
// addresses.
func (s *Stack) DeliverInbound(srcIP, dstIP [4]byte, segment []byte) {
	if !VerifyChecksum(segment, srcIP, dstIP) {
		s.log.Debug("dropping tcp segment with bad checksum", "src", srcIP, "dst", dstIP)
		return
	}
	seg, ok := ParseSegment(segment, srcIP, dstIP)
	if !ok {
		s.log.Debug("dropping malformed tcp segment", "src", srcIP, "dst", dstIP)
		return
	}

	local := Address{IP: dstIP, Port: seg.dstPort}
	remote := Address{IP: srcIP, Port: seg.srcPort}

	tcb, ok := s.tcbs.Lookup(local, remote)
	if !ok {
		s.log.Debug("no connection for inbound segment", "local", local.String(), "remote", remote.String())
		return
	}

	now := SystemClock.Now()
	if seg.flags&FlagACK != 0 {
		tcb.OnAckReceived(seg.ack, now)
	}
	tcb.UpdatePeerWindow(seg.window, now)

	if len(seg.data) > 0 {
		if tcb.State == TCPEstablished && !seqInWindow(seg.seq, tcb.RcvNxt, tcb.EffectiveRecvWindow()+1) {
			s.log.Debug("dropping out-of-window segment", "local", local.String(), "remote", remote.String(), "seq", seg.seq, "rcvNxt", tcb.RcvNxt)
			return
		}
		tcb.OnDataReceived(uint32(len(seg.data)))
		_ = s.queue.Send(NetworkEvent{Kind: EventDataReady, FD: tcb.FD, SocketType: SocketTypeTCP})
	}
}
