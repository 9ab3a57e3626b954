package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"audiogene/internal/model"
)

const (
	DefaultListenPort     = 57130
	DefaultEngineAddr     = "127.0.0.1"
	DefaultEnginePort     = 57120
	DefaultRequestTimeout = 120 * time.Second

	RequestAddress   = "/request"
	ConnectedAddress = "/connected"
	GeneAddressRoot  = "/gene/"
)

type OSCConfig struct {
	// ListenAddr is where the engine's conductor requests arrive.
	ListenAddr     string
	EngineAddr     string
	EnginePort     int
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// OSC drives a SuperCollider engine. Genes go out as /gene/<name> messages
// carrying one double; the engine asks for the next conductor with /request.
type OSC struct {
	cfg    OSCConfig
	client *osc.Client
	logger *slog.Logger

	// requests holds at most one pending request; bursts collapse into it.
	requests chan struct{}
	addr     atomic.Pointer[net.UDPAddr]
}

func NewOSC(cfg OSCConfig) (*OSC, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%d", DefaultListenPort)
	}
	if cfg.EngineAddr == "" {
		cfg.EngineAddr = DefaultEngineAddr
	}
	if cfg.EnginePort == 0 {
		cfg.EnginePort = DefaultEnginePort
	}
	if cfg.EnginePort < 0 || cfg.EnginePort > 65535 {
		return nil, fmt.Errorf("engine port out of range: %d", cfg.EnginePort)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OSC{
		cfg:      cfg,
		client:   osc.NewClient(cfg.EngineAddr, cfg.EnginePort),
		logger:   logger.With("musician", "osc"),
		requests: make(chan struct{}, 1),
	}, nil
}

// Serve listens for conductor requests until ctx is done. It announces
// itself to the engine with /connected once listening.
func (o *OSC) Serve(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", o.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen osc %s: %w", o.cfg.ListenAddr, err)
	}
	if udp, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		o.addr.Store(udp)
	}

	dispatcher := osc.NewStandardDispatcher()
	if err := dispatcher.AddMsgHandler(RequestAddress, func(*osc.Message) {
		o.logger.Info("conductor requested")
		o.signal()
	}); err != nil {
		conn.Close()
		return fmt.Errorf("register %s handler: %w", RequestAddress, err)
	}
	server := &osc.Server{Dispatcher: dispatcher}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		conn.Close()
	}()

	if err := o.client.Send(osc.NewMessage(ConnectedAddress)); err != nil {
		o.logger.Error("announce to engine", "error", err)
	} else {
		o.logger.Info("osc initialized", "listen", conn.LocalAddr().String(), "engine", fmt.Sprintf("%s:%d", o.cfg.EngineAddr, o.cfg.EnginePort))
	}

	err = server.Serve(conn)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("serve osc: %w", err)
}

// Addr is the bound listen address once Serve has started, or nil.
func (o *OSC) Addr() *net.UDPAddr {
	return o.addr.Load()
}

func (o *OSC) signal() {
	select {
	case o.requests <- struct{}{}:
	default:
	}
}

func (o *OSC) RequestConductor(ctx context.Context) bool {
	timer := time.NewTimer(o.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-o.requests:
		o.logger.Debug("conductor request received")
	case <-timer.C:
		o.logger.Info("timed out waiting for conductor request", "timeout", o.cfg.RequestTimeout)
	}
	return true
}

// SetConductor sends every gene of conductor. A failed gene does not stop
// the rest; all failures are returned together.
func (o *OSC) SetConductor(ctx context.Context, conductor model.Individual) error {
	o.logger.Info("setting new conductor", "id", conductor.ID())
	genes := conductor.Instructions()
	var errs []error
	for _, name := range genes.Names() {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := osc.NewMessage(GeneAddressRoot + name)
		msg.Append(genes[name].Expression().Current)
		if err := o.client.Send(msg); err != nil {
			o.logger.Warn("send gene", "gene", name, "error", err)
			errs = append(errs, fmt.Errorf("gene %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
