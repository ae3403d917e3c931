// Command receiver runs the receive side: accept an offer from a
// caster, reorder and decode incoming video, sync it against the
// audio master clock, and play both back.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethan/screencaster/pkg/audio"
	"github.com/ethan/screencaster/pkg/codec"
	"github.com/ethan/screencaster/pkg/config"
	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
	"github.com/ethan/screencaster/pkg/pipeline/receiver"
	"github.com/ethan/screencaster/pkg/signaling"
	"github.com/ethan/screencaster/pkg/transport"
	"github.com/pion/webrtc/v4"
)

func main() {
	fs := flag.NewFlagSet("receiver", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	envPath := fs.String("env", ".env", "path to configuration file")
	casterAddr := fs.String("caster", "", "caster signaling address, e.g. http://192.168.1.5:8443")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s --caster <address> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Low-latency peer-to-peer screen caster (receiver)\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	if *casterAddr == "" {
		log.Error("missing required --caster address")
		os.Exit(1)
	}

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Warn("failed to load configuration, using defaults", "error", err)
		cfg = config.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	clock := pipeline.NewMediaClock()
	health := pipeline.NewHealth()
	monitor := pipeline.NewHealthMonitor(health, pipeline.DefaultMonitorConfig())
	go monitor.Run(ctx)
	go func() {
		for alert := range monitor.Alerts() {
			log.Warn("health alert", "kind", alert.Kind, "message", alert.Message)
		}
	}()

	rtpIn := make(chan pipeline.RtpPacket, 256)
	audioIn := make(chan pipeline.AudioFrame, 64)
	decodedOut := make(chan pipeline.TimedVideoFrame, 32)
	renderOut := make(chan pipeline.TimedVideoFrame, 8)

	recv, err := transport.NewReceiver(cfg.ICEServers, rtpIn, audioIn, clock, log.With("component", "receiver"))
	if err != nil {
		log.Error("failed to create receiver", "error", err)
		os.Exit(1)
	}
	defer recv.Close(context.Background())

	reorderOut := make(chan pipeline.RtpPacket, 256)
	reorderStage := receiver.NewReorderStage(receiver.DefaultReorderConfig(), rtpIn, reorderOut, health, log.With("component", "jitter"))
	go reorderStage.Run(ctx)

	decoder, err := codec.NewVideoDecoder(log.With("component", "decoder"))
	if err != nil {
		log.Error("failed to initialize video decoder", "error", err)
		os.Exit(1)
	}
	defer decoder.Close()

	decodeStage := receiver.NewDecodeStage(decoder, clock, health, log.With("component", "decode"))
	go decodeStage.Run(ctx, reorderOut, decodedOut)

	player, err := audio.NewPlayer(16384, log.With("component", "audio"))
	if err != nil {
		log.Error("failed to initialize audio player", "error", err)
		os.Exit(1)
	}
	defer player.Close()
	go player.Run(ctx, audioIn)

	tracker := receiver.NewAudioPlaybackTracker()
	syncStage := receiver.NewSyncStage(receiver.DefaultSyncConfig(), tracker, decodedOut, renderOut, health, log.With("component", "sync"))
	go syncStage.Run(ctx)

	// No physical audio-output device binding exists in this stack, so
	// the ring buffer is drained on a wall-clock tick matching the
	// frame duration rather than by a device callback. This still
	// advances the master clock DeviceRead ties sync to.
	go func() {
		const stereoFrameCount = 480 // 10ms at 48kHz
		scratch := make([]float32, stereoFrameCount*2)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				player.DeviceRead(scratch, tracker)
			}
		}
	}()

	go func() {
		for frame := range renderOut {
			log.DebugSync("render frame", "pts", frame.PTS, "keyframe", frame.IsKeyframe)
		}
	}()

	offer, answer, err := negotiateWithCaster(ctx, recv, *casterAddr)
	if err != nil {
		log.Error("failed to negotiate with caster", "error", err)
		os.Exit(1)
	}
	log.Info("negotiated with caster", "offer_type", offer.Type, "answer_type", answer.Type)

	log.Info("receiver ready")
	<-ctx.Done()
	log.Info("shutting down")
}

// negotiateWithCaster creates a local offer, posts it to the caster's
// signaling endpoint, and applies the returned answer.
func negotiateWithCaster(ctx context.Context, recv *transport.Receiver, casterAddr string) (signaling.SessionDescription, signaling.SessionDescription, error) {
	pc := recv.PeerConnection()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return signaling.SessionDescription{}, signaling.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return signaling.SessionDescription{}, signaling.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	local := pc.LocalDescription()
	offerDesc := signaling.SessionDescription{Type: "offer", SDP: local.SDP}

	answerDesc, err := postOffer(ctx, casterAddr, offerDesc)
	if err != nil {
		return offerDesc, signaling.SessionDescription{}, err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerDesc.SDP,
	}); err != nil {
		return offerDesc, answerDesc, fmt.Errorf("set remote description: %w", err)
	}

	return offerDesc, answerDesc, nil
}

// postOffer sends offer to the caster's /offer endpoint and returns its
// answer.
func postOffer(ctx context.Context, casterAddr string, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	body, err := json.Marshal(offer)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("marshal offer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, casterAddr+"/offer", bytes.NewReader(body))
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("build offer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("post offer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return signaling.SessionDescription{}, fmt.Errorf("caster returned status %d", resp.StatusCode)
	}

	var answer signaling.SessionDescription
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("decode answer: %w", err)
	}
	return answer, nil
}
