package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/ba-nh/canmonitor/internal/checkpoint"
	"github.com/ba-nh/canmonitor/internal/config"
	"github.com/ba-nh/canmonitor/internal/dashboard"
	"github.com/ba-nh/canmonitor/internal/decode"
	"github.com/ba-nh/canmonitor/internal/ingest"
	"github.com/ba-nh/canmonitor/internal/sink"
	"github.com/ba-nh/canmonitor/internal/telemetry"

	"net/http"
)

const defaultPIDFile = "/var/run/canmonitor.pid"

// checkpointSessionKey is the key every run's checkpoint is saved under and
// loaded from. It must be stable across restarts — not the per-run session
// id, which is freshly minted every launch and would make --resume able to
// find only a checkpoint written earlier in the very same process. The
// checkpoint store itself (cfg.Checkpoint.Path) is already scoped to one
// deployment, so a single fixed key is sufficient to identify "the last
// ingest run against this gateway."
const checkpointSessionKey = "latest"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = runStart(os.Args[2:])
	case "stop":
		err = runStop(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: canmonitor <start|stop> [flags]")
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "/etc/canmonitor/config.yaml", "path to config file")
	headless := fs.Bool("headless", false, "force JSON logging instead of TTY console output")
	resume := fs.Bool("resume", false, "resume ingest state from the checkpoint store, if any")
	listenAddr := fs.String("listen", "", "override dashboard listen address")
	pidFile := fs.String("pidfile", defaultPIDFile, "path to the PID file written for 'stop'")
	if err := fs.Parse(args); err != nil {
		return trace.Wrap(err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return trace.Wrap(err, "loading config")
	}
	if *listenAddr != "" {
		cfg.Dashboard.ListenAddr = *listenAddr
	}

	sessionID := uuid.New()
	log := telemetry.NewLogger(sessionID, *headless)
	metrics := telemetry.NewMetrics()

	if err := writePIDFile(*pidFile); err != nil {
		return trace.Wrap(err, "writing pid file")
	}
	defer os.Remove(*pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	decoder := decode.NewDecoder(cfg.Decoder.Type)
	clock := clockwork.NewRealClock()

	serialSrc := ingest.NewSerialSource(ingest.SerialConfig{
		PortPath: cfg.Serial.PortPath,
		BaudRate: cfg.Serial.BaudRate,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		// Unblocks a ReadLine stalled waiting for the link, so the ingest
		// loop's shutdown path (drain queues, exit) always runs instead of
		// hanging for the life of a never-connecting port.
		_ = serialSrc.Close()
	}()

	defer serialSrc.Close()
	go connectWithRetry(ctx, "serial", serialSrc, log, 10)

	var sinks []sink.Sink
	logBuf := sink.NewLogBuffer(sink.DefaultLogBufferCapacity)
	sinks = append(sinks, logBuf)

	if cfg.Logging.Enabled {
		csvWriter, err := sink.NewCSVWriter(cfg.Logging.Dir, clock, metrics)
		if err != nil {
			return trace.Wrap(err, "opening CSV log")
		}
		sinks = append(sinks, csvWriter)
		go func() {
			if err := csvWriter.Run(ctx); err != nil {
				log.Error().Err(err).Msg("csv writer stopped")
			}
		}()
	}

	cell := sink.NewSnapshotCell(clock.Now())
	sinks = append(sinks, cell)

	if cfg.MQTT.Enabled {
		mqttSink, err := sink.NewMQTTSink(cfg.MQTT.Broker, cfg.MQTT.Topic, "canmonitor-"+sessionID.String(), log)
		if err != nil {
			log.Error().Err(err).Msg("mqtt sink disabled: connect failed")
		} else {
			sinks = append(sinks, mqttSink)
			defer mqttSink.Close()
		}
	}

	fanout := sink.NewFanout(sinks...)
	loop := ingest.New(serialSrc, decoder, fanout, metrics)

	var checkpointer *checkpoint.Checkpointer
	if cfg.Checkpoint.Enabled {
		store, err := checkpoint.Open(cfg.Checkpoint.Path)
		if err != nil {
			return trace.Wrap(err, "opening checkpoint store")
		}
		defer store.Close()

		if *resume {
			found, err := checkpoint.Resume(store, loop, checkpointSessionKey)
			if err != nil {
				return trace.Wrap(err, "resuming from checkpoint")
			}
			log.Info().Bool("found", found).Msg("checkpoint resume")
		}

		checkpointer = checkpoint.NewCheckpointer(store, loop, checkpointSessionKey, cfg.Checkpoint.EveryNSlots, clock, log)
		fanout.Add(checkpointer)
	}

	dash := dashboard.New(dashboard.Config(cfg.Dashboard), cell, log)
	go func() {
		if err := dash.Run(ctx); err != nil {
			log.Error().Err(err).Msg("dashboard transport stopped")
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metrics.Handler()}
	go func() {
		log.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutCtx)
	}()

	runErr := loop.Run(ctx)

	if checkpointer != nil {
		if err := checkpointer.SaveNow(); err != nil {
			log.Error().Err(err).Msg("final checkpoint save failed")
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error().Err(runErr).Msg("ingest loop exited")
		return trace.Wrap(runErr)
	}
	return nil
}

func runStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	pidFile := fs.String("pidfile", defaultPIDFile, "path to the PID file written by 'start'")
	if err := fs.Parse(args); err != nil {
		return trace.Wrap(err)
	}

	data, err := os.ReadFile(*pidFile)
	if err != nil {
		return trace.Wrap(err, "reading pid file %s (is canmonitor running?)", *pidFile)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return trace.Wrap(err, "parsing pid file %s", *pidFile)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return trace.Wrap(err, "finding process %d", pid)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return trace.Wrap(err, "signaling process %d", pid)
	}
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// connectWithRetry is a standing supervisor, not a one-shot dial: it opens
// the link with exponential backoff (starting at 1s, doubling up to 60s,
// retrying indefinitely), then waits for that connection to drop — whether
// at startup or any time mid-session — and immediately starts retrying
// again. The dashboard and metrics servers are already serving while this
// runs, so the operator can see the gateway is alive before the serial
// link comes up, and ingestion itself simply stalls (SerialSource.ReadLine
// blocks) rather than ending while this goroutine works the link back up.
func connectWithRetry(ctx context.Context, name string, src *ingest.SerialSource, log zerolog.Logger, maxLoggedAttempts int) {
	for {
		if !dialWithBackoff(ctx, name, src, log, maxLoggedAttempts) {
			return
		}
		src.WaitForDisconnect(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Str("component", name).Msg("link dropped, reconnecting")
	}
}

// dialWithBackoff retries src.Connect until it succeeds or ctx is done,
// returning false in the latter case so the caller knows not to continue.
func dialWithBackoff(ctx context.Context, name string, src *ingest.SerialSource, log zerolog.Logger, maxLoggedAttempts int) bool {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		if err := src.Connect(); err != nil {
			attempt++
			ev := log.Error()
			if attempt > maxLoggedAttempts {
				ev = log.Info()
			}
			ev.Err(err).Str("component", name).Int("attempt", attempt).Dur("retry_in", delay).Msg("connect failed")

			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}

		log.Info().Str("component", name).Int("attempt", attempt+1).Msg("connected")
		return true
	}
}

