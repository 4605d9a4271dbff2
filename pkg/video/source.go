// Package video implements camera.Source for remote cameras published over
// WebRTC with GStreamer webrtcsink signalling.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-shopcam/pkg/camera"
)

// Source receives H264 video from one remote producer at a time.
type Source struct {
	signallingURL string
	decoder       *FastDecoder
	trackTimeout  time.Duration
	logger        *slog.Logger

	mu        sync.Mutex
	sig       *signaller
	pc        *webrtc.PeerConnection
	sessionID string
	deviceID  string
	done      chan struct{}
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// WithTrackTimeout bounds how long Start waits for the first video track.
func WithTrackTimeout(d time.Duration) Option {
	return func(s *Source) { s.trackTimeout = d }
}

// WithDecodeInterval limits how often H264 is decoded to a still frame.
func WithDecodeInterval(d time.Duration) Option {
	return func(s *Source) { s.decoder = NewFastDecoder(d) }
}

// NewSource creates a source that signals through url (ws://host:8443).
func NewSource(url string, opts ...Option) *Source {
	s := &Source{
		signallingURL: url,
		decoder:       NewFastDecoder(100 * time.Millisecond),
		trackTimeout:  15 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "video")
	return s
}

// ListDevices asks the signalling server for its producers.
func (s *Source) ListDevices(ctx context.Context) ([]camera.Device, error) {
	sig, err := dialSignaller(ctx, s.signallingURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", camera.ErrDeviceUnavailable, err)
	}
	defer sig.close()

	producers, err := sig.listProducers()
	if err != nil {
		return nil, fmt.Errorf("list producers: %w", err)
	}
	devices := make([]camera.Device, 0, len(producers))
	for _, p := range producers {
		devices = append(devices, camera.Device{ID: p.ID, Label: p.Label()})
	}
	return camera.SortDevices(devices), nil
}

// Start negotiates a receive-only session with the producer and waits for
// its video track.
func (s *Source) Start(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	if s.pc != nil {
		current := s.deviceID
		s.mu.Unlock()
		return fmt.Errorf("%w: %s already open", camera.ErrDeviceUnavailable, current)
	}
	s.mu.Unlock()

	sig, err := dialSignaller(ctx, s.signallingURL)
	if err != nil {
		return fmt.Errorf("%w: %v", camera.ErrDeviceUnavailable, err)
	}

	producers, err := sig.listProducers()
	if err != nil {
		sig.close()
		return fmt.Errorf("list producers: %w", err)
	}
	if !hasProducer(producers, deviceID) {
		sig.close()
		return fmt.Errorf("%w: %s", camera.ErrDeviceUnavailable, deviceID)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		sig.close()
		return fmt.Errorf("peer connection: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		sig.close()
		return fmt.Errorf("add transceiver: %w", err)
	}

	done := make(chan struct{})
	trackReady := make(chan struct{}, 1)

	s.mu.Lock()
	s.sig = sig
	s.pc = pc
	s.deviceID = deviceID
	s.done = done
	s.mu.Unlock()

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		s.logger.Info("video track", "codec", track.Codec().MimeType, "device", deviceID)
		select {
		case trackReady <- struct{}{}:
		default:
		}
		go s.readTrack(track, done)
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			s.sendICE(c)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("connection state", "state", state.String())
	})

	if err := sig.startSession(deviceID); err != nil {
		s.Stop()
		return fmt.Errorf("start session: %w", err)
	}
	go s.handleSignalling(sig, pc, done)

	timer := time.NewTimer(s.trackTimeout)
	defer timer.Stop()
	select {
	case <-trackReady:
		return nil
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	case <-timer.C:
		s.Stop()
		return fmt.Errorf("%w: no video from %s", camera.ErrDeviceUnavailable, deviceID)
	}
}

// Stop ends the session and releases the peer connection.
func (s *Source) Stop() error {
	s.mu.Lock()
	sig, pc, done := s.sig, s.pc, s.done
	s.sig, s.pc, s.done = nil, nil, nil
	s.deviceID, s.sessionID = "", ""
	s.mu.Unlock()

	if pc == nil {
		return nil
	}
	close(done)
	s.decoder.Reset()

	var errs []error
	if err := pc.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := sig.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CurrentFrame returns the most recently decoded frame.
func (s *Source) CurrentFrame() (image.Image, error) {
	s.mu.Lock()
	streaming := s.pc != nil
	s.mu.Unlock()
	if !streaming {
		return nil, camera.ErrNotStreaming
	}
	img, err := s.decoder.LatestImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", camera.ErrNotStreaming, err)
	}
	return img, nil
}

func (s *Source) handleSignalling(sig *signaller, pc *webrtc.PeerConnection, done <-chan struct{}) {
	for {
		_, msg, err := sig.ws.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				s.logger.Warn("signalling closed", "error", err)
			}
			return
		}

		var base struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "sessionStarted":
			s.mu.Lock()
			s.sessionID = base.SessionID
			s.mu.Unlock()
		case "peer":
			s.handlePeerMessage(pc, msg)
		case "endSession":
			s.logger.Info("producer ended session")
			return
		}
	}
}

type peerMessage struct {
	SDP *struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	} `json:"sdp"`
	ICE *struct {
		Candidate     string  `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	} `json:"ice"`
}

func (s *Source) handlePeerMessage(pc *webrtc.PeerConnection, raw []byte) {
	var msg peerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("bad peer message", "error", err)
		return
	}

	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP.SDP}
		if err := pc.SetRemoteDescription(offer); err != nil {
			s.logger.Warn("set remote description", "error", err)
			return
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			s.logger.Warn("create answer", "error", err)
			return
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			s.logger.Warn("set local description", "error", err)
			return
		}
		s.sendPeer(map[string]interface{}{
			"sdp": map[string]string{"type": answer.Type.String(), "sdp": answer.SDP},
		})
	}

	if msg.ICE != nil {
		if err := pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		}); err != nil {
			s.logger.Debug("add ice candidate", "error", err)
		}
	}
}

func (s *Source) sendICE(c *webrtc.ICECandidate) {
	init := c.ToJSON()
	s.sendPeer(map[string]interface{}{
		"ice": map[string]interface{}{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	})
}

func (s *Source) sendPeer(body map[string]interface{}) {
	s.mu.Lock()
	sig, session := s.sig, s.sessionID
	s.mu.Unlock()
	if sig == nil || session == "" {
		return
	}
	body["type"] = "peer"
	body["sessionId"] = session
	if err := sig.send(body); err != nil {
		s.logger.Warn("signalling send", "error", err)
	}
}

// readTrack depacketizes H264 and hands complete keyframe groups to the
// decoder.
func (s *Source) readTrack(track *webrtc.TrackRemote, done <-chan struct{}) {
	var depack codecs.H264Packet
	var au accessUnits

	for {
		select {
		case <-done:
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if err := s.consume(&depack, &au, pkt); err != nil {
			s.logger.Debug("depacketize", "error", err)
		}
	}
}

func (s *Source) consume(depack *codecs.H264Packet, au *accessUnits, pkt *rtp.Packet) error {
	nal, err := depack.Unmarshal(pkt.Payload)
	if err != nil {
		return err
	}
	au.write(nal)
	if pkt.Marker && au.hasKeyframe() {
		s.decoder.Submit(au.bytes())
	}
	return nil
}

func hasProducer(producers []Producer, id string) bool {
	for _, p := range producers {
		if p.ID == id {
			return true
		}
	}
	return false
}

var _ camera.Source = (*Source)(nil)
