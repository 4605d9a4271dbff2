package video

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Producer is a camera advertised by the signalling server.
type Producer struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

// Label is the human readable device label: meta "name", followed by the
// facing hint when the producer advertises one.
func (p Producer) Label() string {
	name := p.Meta["name"]
	if name == "" {
		name = p.ID
	}
	if facing := p.Meta["facing"]; facing != "" {
		return name + " (" + facing + ")"
	}
	return name
}

// signaller speaks the GStreamer webrtcsink signalling protocol.
type signaller struct {
	ws     *websocket.Conn
	mu     sync.Mutex // guards writes
	peerID string
}

func dialSignaller(ctx context.Context, url string) (*signaller, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signalling connect: %w", err)
	}
	s := &signaller{ws: ws}

	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := s.readJSON(10*time.Second, &welcome); err != nil {
		ws.Close()
		return nil, fmt.Errorf("welcome: %w", err)
	}
	if welcome.Type != "welcome" {
		ws.Close()
		return nil, fmt.Errorf("expected welcome, got %s", welcome.Type)
	}
	s.peerID = welcome.PeerID
	return s, nil
}

func (s *signaller) readJSON(timeout time.Duration, v interface{}) error {
	s.ws.SetReadDeadline(time.Now().Add(timeout))
	defer s.ws.SetReadDeadline(time.Time{})

	_, msg, err := s.ws.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(msg, v)
}

func (s *signaller) send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *signaller) listProducers() ([]Producer, error) {
	if err := s.send(map[string]string{"type": "list"}); err != nil {
		return nil, err
	}
	var resp struct {
		Type      string     `json:"type"`
		Producers []Producer `json:"producers"`
	}
	if err := s.readJSON(5*time.Second, &resp); err != nil {
		return nil, err
	}
	if resp.Type != "list" {
		return nil, fmt.Errorf("expected list, got %s", resp.Type)
	}
	return resp.Producers, nil
}

func (s *signaller) startSession(producerID string) error {
	return s.send(map[string]string{
		"type":   "startSession",
		"peerId": producerID,
	})
}

func (s *signaller) close() error {
	return s.ws.Close()
}
