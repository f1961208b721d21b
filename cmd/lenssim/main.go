package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dvrsch/lensctl/internal/observability"
	"github.com/dvrsch/lensctl/internal/remote"
	"github.com/dvrsch/lensctl/internal/transport"
	"github.com/dvrsch/lensctl/internal/wire"
)

// consoleDisplay stands in for the lens panel. The device re-renders
// on every tick, so repeats are dropped here.
type consoleDisplay struct {
	mu   sync.Mutex
	last string
	seen bool
}

func (d *consoleDisplay) Render(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen && text == d.last {
		return
	}
	d.last, d.seen = text, true
	if text == "" {
		fmt.Println("[display cleared]")
		return
	}
	fmt.Printf("[display] %s\n", text)
}

// drainingBattery loses one percent per drain interval and bottoms out
// at 1 so the simulator never reports a dead cell.
type drainingBattery struct {
	start int
	since time.Time
	drain time.Duration
}

func (b *drainingBattery) Level() int {
	level := b.start - int(time.Since(b.since)/b.drain)
	if level < 1 {
		level = 1
	}
	return level
}

func main() {
	observability.InitLogger("lenssim")

	addr := flag.String("addr", "127.0.0.1:9556", "address to listen on")
	mtu := flag.Int("mtu", 23, "MTU advertised to hosts")
	renderInterval := flag.Duration("render-interval", 200*time.Millisecond, "render tick")
	telemetryEvery := flag.Duration("telemetry-every", 10*time.Second, "minimum gap between battery frames")
	battery := flag.Int("battery", 87, "starting battery percent")
	drain := flag.Duration("drain", time.Minute, "time per percent of battery loss")
	flag.Parse()

	if *mtu < wire.MinMTU {
		log.Fatal().Int("mtu", *mtu).Int("min", wire.MinMTU).Msg("mtu below protocol minimum")
	}
	if *battery < 0 || *battery > 100 {
		log.Fatal().Int("battery", *battery).Msg("battery must be 0-100")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ln, err := transport.Listen(*addr, *mtu)
	if err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
	defer ln.Close()
	log.Info().Str("addr", ln.Addr()).Int("mtu", *mtu).Msg("simulator up")

	display := &consoleDisplay{}
	cell := &drainingBattery{start: *battery, since: time.Now(), drain: *drain}

	// One host at a time, like the real peripheral.
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("shutting down")
				return
			}
			log.Error().Err(err).Msg("accept")
			continue
		}

		dev, err := remote.NewDevice(conn, remote.DeviceConfig{
			RenderInterval: *renderInterval,
			TelemetryEvery: *telemetryEvery,
			Display:        display,
			Battery:        cell,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("device config")
		}

		log.Info().Str("host", conn.ID()).Msg("host attached")
		err = dev.Run(ctx)
		conn.Close()
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("shutting down")
			return
		}
		log.Warn().Err(err).Msg("host detached")
	}
}
