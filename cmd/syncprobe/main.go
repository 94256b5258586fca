// Command syncprobe connects to a room, attaches a local avatar and walks it
// in a circle while logging what the session sees. It is a smoke test for a
// deployment, not a game.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeusync/entitysync/internal/config"
	"github.com/zeusync/entitysync/internal/core/animsync"
	"github.com/zeusync/entitysync/internal/core/events"
	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/internal/core/ownership"
	"github.com/zeusync/entitysync/internal/core/replication"
	"github.com/zeusync/entitysync/internal/core/replicator"
	"github.com/zeusync/entitysync/internal/core/session"
	"github.com/zeusync/entitysync/internal/injector"
	"github.com/zeusync/entitysync/pkg/mathx"
)

func main() {
	path := flag.String("config", "", "path to a yaml, toml or json config file")
	entity := flag.Uint("entity", 1, "entity id of the probe avatar")
	fps := flag.Int("fps", 60, "frames per second")
	report := flag.Duration("report", 5*time.Second, "how often to log stats")
	flag.Parse()

	if err := run(*path, replication.EntityID(*entity), *fps, *report); err != nil {
		fmt.Fprintln(os.Stderr, "syncprobe:", err)
		os.Exit(1)
	}
}

func run(path string, id replication.EntityID, fps int, report time.Duration) error {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if fps <= 0 {
		fps = 60
	}

	logger, err := injector.ProvideLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c, err := injector.ProvideClient(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Events().Subscribe(events.StatusChanged, func(ev events.Event) error {
		change := ev.Data.(events.StatusChange)
		logger.Info("Status changed", log.String("from", change.From), log.String("to", change.To))
		return nil
	})

	if err := c.Connect(ctx); err != nil {
		return err
	}

	schema := cfg.Entity(ownership.KindPlayer)
	anim := animsync.NewMemoryAnimator(schema.Layers)
	var avatar *replicator.Entity

	step := time.Second / time.Duration(fps)
	frames := time.NewTicker(step)
	defer frames.Stop()
	stats := time.NewTicker(report)
	defer stats.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return nil

		case now := <-frames.C:
			dt := now.Sub(last).Seconds()
			last = now
			c.Frame(dt)

			switch st := c.Status(); {
			case st == session.StatusSuccess && avatar == nil:
				avatar, err = c.Attach(replicator.Spec{
					ID:        id,
					Owner:     c.LocalPlayerID(),
					Kind:      ownership.KindPlayer,
					Transform: mathx.NewTransform(),
					Animator:  anim,
				})
				if err != nil {
					return err
				}
				logger.Info("Avatar attached", log.Entity(uint32(id)),
					log.String("classification", avatar.Classification().String()))
			case st.Settled() && st != session.StatusSuccess:
				return fmt.Errorf("session ended: %s: %w", st, c.Err())
			}

			if avatar != nil {
				walk(avatar, anim, now)
			}
			anim.EndFrame()

		case <-stats.C:
			s := c.Stats()
			logger.Info("Stats",
				log.String("status", s.Status.String()),
				log.Int("attached", s.Replicator.Attached),
				log.Uint64("transforms_sent", s.Replicator.TransformsSent),
				log.Uint64("dispatched", s.Replicator.Dispatched),
				log.Uint64("drift", s.Replicator.Drift),
				log.Uint64("rpc_sent", s.RPC.Sent),
				log.Uint64("rpc_received", s.RPC.Received),
				log.Uint64("rpc_dropped", s.RPC.Dropped))
		}
	}
}

// walk moves the avatar around a unit circle, one lap every four seconds.
func walk(e *replicator.Entity, anim *animsync.MemoryAnimator, now time.Time) {
	phase := float64(now.UnixMilli()%4000) / 4000 * 2 * math.Pi
	t := e.Transform()
	t.Position = mathx.V(math.Cos(phase), 0, math.Sin(phase))
	t.Rotation = mathx.Euler(0, -phase*180/math.Pi, 0)
	e.SetTransform(t)
	anim.SetFloat("Speed", 2*math.Pi/4)
}
