// Command voicewire streams raw audio from a file or stdin to the
// transcription service and prints the recognised turns.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/pkg/event"
	"github.com/voicewire/voicewire/pkg/transcript"
	"github.com/voicewire/voicewire/pkg/voice"
	"github.com/voicewire/voicewire/pkg/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ---- CLI flags ----
	configPath := flag.String("config", "", "path to a YAML session configuration")
	language := flag.String("lang", "en", "transcription language when no config file is given")
	endpoint := flag.String("url", "", "override the service endpoint")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	showInterims := flag.Bool("interims", false, "print interim segments as they change")
	flag.Parse()

	slog.SetDefault(newLogger(*logLevel))

	apiKey := os.Getenv("VOICEWIRE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "voicewire: VOICEWIRE_API_KEY is not set")
		return 1
	}

	// ---- Session configuration ----
	var cfg *voice.Config
	if *configPath != "" {
		loaded, err := voice.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voicewire: %v\n", err)
			return 1
		}
		cfg = loaded
	} else {
		cfg = voice.NewConfig(*language)
	}

	// ---- Input ----
	in := io.Reader(os.Stdin)
	source := "stdin"
	if path := flag.Arg(0); path != "" {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voicewire: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
		source = path
	}

	// ---- Signal context ----
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics provider ----
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voicewire-cli"})
	if err != nil {
		slog.Error("metrics provider init failed", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ---- Client ----
	opts := []voice.Option{voice.WithHeaderProducer(bearerAuth(apiKey))}
	if *endpoint != "" {
		opts = append(opts, voice.WithURL(*endpoint))
	}
	client, err := voice.NewClient(cfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicewire: %v\n", err)
		return 1
	}

	client.On(voice.EventAddSegment, func(p event.Payload) {
		printSegments(os.Stdout, p, false)
	})
	if *showInterims {
		client.On(voice.EventAddInterimSegment, func(p event.Payload) {
			printSegments(os.Stderr, p, true)
		})
	}
	client.On(voice.EventEndOfTurn, func(p event.Payload) {
		fmt.Printf("-- end of turn %d --\n", p["turn_id"].(int64))
	})
	client.On(voice.EventError, func(p event.Payload) {
		slog.Error("service error", "type", p["type"], "reason", p["reason"])
	})

	if err := client.Connect(ctx); err != nil {
		slog.Error("connect failed", "err", err)
		return 1
	}
	slog.Info("session started",
		"session_id", client.SessionID(),
		"language", cfg.Language,
		"mode", string(cfg.EndOfUtteranceMode),
		"source", source,
	)

	if err := stream(ctx, client, cfg, in); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("stream error", "err", err)
	}

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(disconnectCtx); err != nil {
		slog.Error("disconnect error", "err", err)
		return 1
	}
	return 0
}

// stream pushes the raw audio in real-time-sized chunks so the service sees
// the pacing a live microphone would produce.
func stream(ctx context.Context, client *voice.Client, cfg *voice.Config, in io.Reader) error {
	const chunkDuration = 100 * time.Millisecond
	width, err := cfg.AudioEncoding.SampleWidth()
	if err != nil {
		return err
	}
	chunkBytes := cfg.SampleRate * width / int(time.Second/chunkDuration)
	buf := make([]byte, chunkBytes)

	ticker := time.NewTicker(chunkDuration)
	defer ticker.Stop()

	for {
		n, err := io.ReadFull(in, buf)
		if n > 0 {
			if sendErr := client.SendAudio(ctx, buf[:n]); sendErr != nil {
				return sendErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return client.Finalize(ctx)
			}
			return err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func printSegments(w io.Writer, p event.Payload, interim bool) {
	marker := ""
	if interim {
		marker = "~ "
	}
	for _, seg := range p["segments"].([]transcript.Segment) {
		if seg.Speaker != "" {
			fmt.Fprintf(w, "%s[%s] %s\n", marker, seg.Speaker, seg.Text)
		} else {
			fmt.Fprintf(w, "%s%s\n", marker, seg.Text)
		}
	}
}

func bearerAuth(apiKey string) wire.HeaderProducer {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+apiKey)
	return wire.StaticHeaders(h)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
