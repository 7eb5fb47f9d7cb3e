// ABOUTME: Main player application orchestration
// ABOUTME: Wires decoder, feeder, bridge, sink, metrics and TUI together
package app

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/Resonate-Protocol/trackbridge/internal/config"
	"github.com/Resonate-Protocol/trackbridge/internal/observe"
	"github.com/Resonate-Protocol/trackbridge/internal/player"
	"github.com/Resonate-Protocol/trackbridge/internal/sink"
	"github.com/Resonate-Protocol/trackbridge/internal/sync"
	"github.com/Resonate-Protocol/trackbridge/internal/ui"
	"github.com/Resonate-Protocol/trackbridge/internal/version"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio/decode"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio/output"
	"github.com/Resonate-Protocol/trackbridge/pkg/bridge"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const statusInterval = 250 * time.Millisecond

// Option configures a Player
type Option func(*Player)

// WithDevice uses dev instead of looking up the configured backend
func WithDevice(dev output.Device) Option {
	return func(p *Player) { p.device = dev }
}

// WithLogger sets the logger
func WithLogger(logger *log.Logger) Option {
	return func(p *Player) { p.logger = logger }
}

// WithDecoder plays dec instead of opening the configured input
func WithDecoder(dec decode.Decoder) Option {
	return func(p *Player) { p.decoder = dec }
}

// Player represents the main player application
type Player struct {
	config  config.Config
	logger  *log.Logger
	device  output.Device
	decoder decode.Decoder

	feeder *player.Feeder
	bridge *bridge.Bridge
	sink   *sink.Sink
	clock  *sync.PositionClock

	mu       gosync.Mutex
	progress sink.Progress
}

// New creates a new player
func New(cfg config.Config, opts ...Option) *Player {
	p := &Player{config: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.Default().WithPrefix("player")
	}
	return p
}

// prepare opens the device and input and builds the pipeline
func (p *Player) prepare() error {
	if p.device == nil {
		dev, err := output.New(p.config.Device)
		if err != nil {
			return err
		}
		p.device = dev
	}

	dec := p.decoder
	if dec == nil {
		var err error
		dec, err = decode.Open(p.config.Input, p.config.Format)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
	}
	if dec.Format().SampleType != p.config.Format.SampleType {
		dec = decode.Convert(dec, p.config.Format.SampleType)
	}

	p.feeder = player.NewFeeder(dec, p.config.SourceFrames)
	format := p.feeder.Format()

	b, err := bridge.New(p.device, bridge.Config{
		Format:       format,
		TargetFrames: p.config.TargetFrames,
	}, bridge.WithLogger(p.logger.WithPrefix("bridge")))
	if err != nil {
		dec.Close()
		return err
	}
	p.bridge = b

	p.clock = sync.NewPositionClock(format.SampleRate)
	p.sink, err = sink.New(b, p.feeder, p.feeder.FrameBuffer(),
		sink.WithLogger(p.logger.WithPrefix("sink")),
		sink.WithPollInterval(p.config.PollInterval),
		sink.WithProgress(p.onProgress),
	)
	if err != nil {
		b.Release()
		dec.Close()
		return err
	}
	if err := p.sink.SetPlaybackRate(p.config.PlaybackRate); err != nil {
		b.Release()
		dec.Close()
		return err
	}
	return nil
}

// onProgress runs on the sink goroutine
func (p *Player) onProgress(pr sink.Progress) {
	p.clock.Update(pr.Timestamp)
	p.mu.Lock()
	p.progress = pr
	p.mu.Unlock()
}

func (p *Player) lastProgress() sink.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Run plays until the input drains, ctx is cancelled or the user quits
func (p *Player) Run(ctx context.Context) error {
	if p.config.MetricsAddr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version.Version})
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	if err := p.prepare(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	var prog *tea.Program
	var controls *ui.Controls
	if p.config.TUI {
		controls = ui.NewControls()
		prog = ui.NewProgram(controls, p.config.Volume)
		g.Go(func() error {
			defer cancel()
			if _, err := prog.Run(); err != nil {
				return fmt.Errorf("TUI: %w", err)
			}
			return nil
		})
	}

	if p.config.MetricsAddr != "" {
		srv := observe.NewMetricsServer(p.config.MetricsAddr)
		p.logger.Info("Serving metrics", "addr", p.config.MetricsAddr)
		g.Go(func() error { return observe.Serve(runCtx, srv) })
	}

	g.Go(func() error { return p.feeder.Run(runCtx) })
	g.Go(func() error { return p.sink.Run(runCtx) })
	g.Go(func() error {
		defer func() {
			if prog != nil {
				prog.Quit()
			}
		}()
		return p.control(runCtx, cancel, controls, prog)
	})

	err := g.Wait()
	p.logFinalStats()
	return err
}

// control applies the initial volume, forwards TUI commands to the sink
// and stops everything once the input has drained
func (p *Player) control(ctx context.Context, cancel context.CancelFunc, controls *ui.Controls, prog *tea.Program) error {
	if p.config.Volume != 1 {
		if err := p.setVolume(ctx, p.config.Volume); err != nil {
			return err
		}
	}

	var commands <-chan ui.Command
	if controls != nil {
		commands = controls.Commands
	}
	if prog != nil {
		prog.Send(p.streamMsg())
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-p.sink.Drained():
			p.logger.Info("Playback finished")
			cancel()
			return nil

		case <-p.sink.Done():
			// sink failed; its error surfaces through the group
			return nil

		case cmd := <-commands:
			if err := p.apply(ctx, cmd, cancel); err != nil {
				if errors.Is(err, sink.ErrStopped) || errors.Is(err, context.Canceled) {
					return nil
				}
				p.logger.Warn("Control command failed", "err", err)
			}

		case <-ticker.C:
			if prog != nil {
				prog.Send(p.statusMsg())
			}
		}
	}
}

func (p *Player) apply(ctx context.Context, cmd ui.Command, cancel context.CancelFunc) error {
	switch cmd.Kind {
	case ui.CommandVolume:
		return p.setVolume(ctx, cmd.Volume)
	case ui.CommandPause:
		p.feeder.SetPlaying(false)
		return p.sink.Pause(ctx)
	case ui.CommandResume:
		p.feeder.SetPlaying(true)
		return p.sink.Resume(ctx)
	case ui.CommandFlush:
		return p.sink.Flush(ctx)
	case ui.CommandRate:
		return p.sink.SetPlaybackRate(cmd.Rate)
	case ui.CommandQuit:
		p.logger.Info("Received quit signal from TUI")
		cancel()
	}
	return nil
}

func (p *Player) setVolume(ctx context.Context, gain float32) error {
	status, err := p.sink.SetVolume(ctx, gain)
	if err != nil {
		return err
	}
	if status != output.StatusSuccess {
		p.logger.Warn("Device rejected volume", "gain", gain, "status", status)
	}
	return nil
}

func (p *Player) streamMsg() ui.StreamMsg {
	format := p.bridge.Format()
	return ui.StreamMsg{
		Device:      p.device.Name(),
		StreamID:    p.bridge.ID().String(),
		Format:      format.String(),
		Layout:      p.bridge.Layout().String(),
		BufferBytes: p.bridge.BufferSize(),
		BufferMs:    float64(p.bridge.BufferFrames()) * 1000 / float64(format.SampleRate),
		Input:       p.config.Input,
	}
}

func (p *Player) statusMsg() ui.StatusMsg {
	pr := p.lastProgress()
	fs := p.feeder.Stats()
	_, drift, quality := p.clock.Stats()
	vol := pr.Volume
	return ui.StatusMsg{
		Position:    p.clock.Position(),
		Elapsed:     p.clock.Elapsed(),
		Quality:     quality,
		DriftPPM:    drift,
		Queued:      pr.FramesQueued,
		Consumed:    pr.FramesConsumed,
		Decoded:     fs.FramesDecoded,
		Underruns:   fs.Underruns,
		Volume:      &vol,
		Paused:      pr.Paused,
		Holding:     pr.Rate == 0,
		EndOfStream: pr.EndOfStream,
	}
}

func (p *Player) logFinalStats() {
	st := p.sink.Stats()
	fs := p.feeder.Stats()
	p.logger.Info("Player stopped",
		"frames_written", st.FramesWritten,
		"frames_consumed", st.FramesConsumed,
		"frames_decoded", fs.FramesDecoded,
		"underruns", fs.Underruns)
}

// ProbeResult describes one buffer negotiation
type ProbeResult struct {
	Device         string
	MinBufferBytes int
	BufferBytes    int
	Attempts       []bridge.Attempt
}

// Probe negotiates a buffer for cfg on dev, records every attempt and
// releases the stream again. A failed negotiation still returns the
// attempts made.
func Probe(dev output.Device, cfg config.Config, logger *log.Logger) (ProbeResult, error) {
	res := ProbeResult{Device: dev.Name()}
	opts := []bridge.Option{
		bridge.WithAttemptHook(func(a bridge.Attempt) {
			res.Attempts = append(res.Attempts, a)
		}),
	}
	if logger != nil {
		opts = append(opts, bridge.WithLogger(logger))
	}

	b, err := bridge.New(dev, bridge.Config{Format: cfg.Format, TargetFrames: cfg.TargetFrames}, opts...)
	if err != nil {
		return res, err
	}
	res.MinBufferBytes = b.MinBufferSize()
	res.BufferBytes = b.BufferSize()
	return res, b.Release()
}
