// Command voiceprobe speaks a WAV file to a running relay the way a browser
// client would and records the reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/voice"
)

func main() {
	scenarioPath := flag.String("scenario", "probe.yaml", "path to the probe scenario")
	relayURL := flag.String("relay", "", "relay websocket URL, overrides the scenario")
	output := flag.String("out", "", "output WAV path, overrides the scenario")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	pretty := flag.Bool("pretty", true, "human readable logs")
	flag.Parse()

	observability.InitLogger(*logLevel, *pretty)
	logger := observability.GetLogger()

	sc, err := voice.LoadScenario(*scenarioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load scenario: %v\n", err)
		os.Exit(1)
	}
	if *relayURL != "" {
		sc.RelayURL = *relayURL
	}
	if *output != "" {
		sc.OutputWAV = *output
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("relay", sc.RelayURL).
		Str("input", sc.InputWAV).
		Bool("realtime", sc.Realtime).
		Msg("Starting voice probe")

	result, err := voice.RunProbe(ctx, sc, logger)
	if result != nil {
		logger.Info().
			Int("turns", result.Turns).
			Strs("transcripts", result.Transcripts).
			Strs("errors", result.Errors).
			Dur("response_audio", result.ResponseAudio).
			Str("output", sc.OutputWAV).
			Msg("Probe finished")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("Probe failed")
	}
}
