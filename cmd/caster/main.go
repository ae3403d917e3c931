// Command caster runs the sender side: capture, encode, and transmit
// a screen to every connected peer, while mirroring the stream to a
// recording on disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethan/screencaster/pkg/capture"
	"github.com/ethan/screencaster/pkg/codec"
	"github.com/ethan/screencaster/pkg/config"
	"github.com/ethan/screencaster/pkg/discovery"
	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
	"github.com/ethan/screencaster/pkg/record"
	"github.com/ethan/screencaster/pkg/signaling"
	"github.com/ethan/screencaster/pkg/transport"
	"github.com/pion/webrtc/v4"
)

// negotiate applies the remote offer to peer's connection and returns
// the generated local answer once ICE gathering completes.
func negotiate(peer *transport.Peer, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	pc := peer.PeerConnection()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	local := pc.LocalDescription()
	return signaling.SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

func main() {
	fs := flag.NewFlagSet("caster", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	envPath := fs.String("env", ".env", "path to configuration file")
	display := fs.String("display", "", "display id to capture (empty selects the default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Low-latency peer-to-peer screen caster (sender)\n\n")
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

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Warn("failed to load configuration, using defaults", "error", err)
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
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

	opts := pipeline.NewOptsWatch(pipeline.CaptureOpts{MaxFPS: cfg.DefaultMaxFPS})

	backend, err := capture.NewGenericBackend(*display)
	if err != nil {
		log.Error("failed to initialize capture backend", "error", err)
		os.Exit(1)
	}
	capturer := capture.NewCapturer(backend, opts, health, log.With("component", "capture"))

	displays, err := capturer.ListDisplays()
	if err != nil {
		log.Error("failed to list displays", "error", err)
		os.Exit(1)
	}
	if len(displays) == 0 {
		log.Error("no capturable displays found")
		os.Exit(1)
	}
	log.Info("displays discovered", "count", len(displays))

	w, h := displays[0].Width, displays[0].Height
	if *display != "" {
		for _, d := range displays {
			if d.ID == *display {
				w, h = d.Width, d.Height
			}
		}
	}

	videoOut := make(chan pipeline.EncodedFrame, 8)
	audioOut := make(chan pipeline.AudioFrame, 32)
	recordCh := make(chan pipeline.SavePacket, 64)

	transmitter := transport.NewTransmitter(videoOut, audioOut, health, log.With("component", "transmitter"))
	encoder := codec.NewVideoEncoder(w, h, transmitter.ForceIDR(), log.With("component", "encoder"))
	defer encoder.Close()

	captureOut := make(chan pipeline.EncodedFrame, 8)
	capturer.StartCapture(ctx, encoder, captureOut, clock)
	defer capturer.StopCapture()

	// Tee every encoded frame to the recorder (best effort) and to the
	// transmitter, so both see the full stream.
	go func() {
		for f := range captureOut {
			select {
			case recordCh <- pipeline.SavePacket{Kind: pipeline.SaveVideo, Data: f.Data, TSMicros: f.PTS.Micros()}:
			default:
			}
			select {
			case videoOut <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	go transmitter.Run(ctx)

	recorder := record.NewRecorder(recordingPath(cfg.RecordDir), log.With("component", "recorder"))
	go func() {
		if err := recorder.Run(ctx, recordCh, recordingPath(cfg.RecordDir)); err != nil {
			log.Warn("recorder exited", "error", err)
		}
	}()

	offerHandler := func(ctx context.Context, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
		peerID := fmt.Sprintf("peer-%d", time.Now().UnixNano())
		peer, err := transport.NewPeer(ctx, peerID, cfg.ICEServers, transmitter.ForceIDR(), transmitter.Events(), log.With("component", "peer"))
		if err != nil {
			return signaling.SessionDescription{}, fmt.Errorf("create peer: %w", err)
		}
		answer, err := negotiate(peer, offer)
		if err != nil {
			return signaling.SessionDescription{}, err
		}
		transmitter.AddPeer(peer)
		return answer, nil
	}

	sigServer := signaling.NewServer(offerHandler, log.With("component", "signaling"))
	if err := sigServer.Start(ctx, cfg.ListenAddr); err != nil {
		log.Error("failed to start signaling server", "error", err)
		os.Exit(1)
	}
	defer sigServer.Stop(context.Background())

	if ip := firstNonLoopbackIPv4(); ip != nil {
		advertiser, err := discovery.Advertise(cfg.MDNSServiceName, ip, log.With("component", "mdns"))
		if err != nil {
			log.Warn("mdns advertisement failed, manual signaling still available", "error", err)
		} else {
			defer advertiser.Close()
		}
	}

	log.Info("caster ready", "listen_addr", cfg.ListenAddr, "display", displays[0].Name, "width", w, "height", h)
	<-ctx.Done()
	log.Info("shutting down")
}

func recordingPath(dir string) string {
	if dir == "" {
		dir = "."
	}
	return fmt.Sprintf("%s/session-%d.mp4", dir, time.Now().Unix())
}

func firstNonLoopbackIPv4() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4
		}
	}
	return nil
}
