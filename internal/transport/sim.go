package transport

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Wildcard is the instrument entry used when no address matches.
const Wildcard = "*"

// SimInstrument scripts the replies of one simulated instrument. Replies for
// a command are returned in order and the last one repeats.
type SimInstrument struct {
	Replies map[string][]string `yaml:"replies"`
	Binary  map[string]string   `yaml:"binary"`
	Fail    []string            `yaml:"fail"` // commands that return an error
}

// SimConfig is the simulator definition file.
type SimConfig struct {
	// Default is returned for queries with no scripted reply.
	Default     string                   `yaml:"default"`
	Instruments map[string]SimInstrument `yaml:"instruments"`
}

// Exchange is one recorded call.
type Exchange struct {
	Address string
	Op      string // send, query, binary
	Text    string
	Reply   string
	Err     error
}

// Sim is an in-memory Transport driven by a SimConfig.
type Sim struct {
	mu      sync.Mutex
	cfg     SimConfig
	cursor  map[string]int
	history []Exchange
}

// NewSim returns a simulator for cfg.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Instruments == nil {
		cfg.Instruments = make(map[string]SimInstrument)
	}
	return &Sim{cfg: cfg, cursor: make(map[string]int)}
}

// LoadSim reads a simulator definition. An empty path yields a simulator
// that answers every query with "0".
func LoadSim(path string) (*Sim, error) {
	if path == "" {
		return NewSim(SimConfig{Default: "0"}), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sim file: %w", err)
	}
	var cfg SimConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing sim file %s: %w", path, err)
	}
	return NewSim(cfg), nil
}

func (s *Sim) instrument(address string) (SimInstrument, bool) {
	if inst, ok := s.cfg.Instruments[address]; ok {
		return inst, true
	}
	inst, ok := s.cfg.Instruments[Wildcard]
	return inst, ok
}

func (s *Sim) fails(inst SimInstrument, text string) bool {
	for _, f := range inst.Fail {
		if strings.EqualFold(normalize(f), text) {
			return true
		}
	}
	return false
}

func (s *Sim) record(ex Exchange) {
	s.history = append(s.history, ex)
}

// Send records a write.
func (s *Sim) Send(ctx context.Context, address, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	text = normalize(text)
	ex := Exchange{Address: address, Op: "send", Text: text}
	if inst, ok := s.instrument(address); ok && s.fails(inst, text) {
		ex.Err = fmt.Errorf("simulated failure for %q", text)
	}
	s.record(ex)
	return ex.Err
}

// Query returns the next scripted reply for text.
func (s *Sim) Query(ctx context.Context, address, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	text = normalize(text)
	ex := Exchange{Address: address, Op: "query", Text: text, Reply: s.cfg.Default}

	if inst, ok := s.instrument(address); ok {
		if s.fails(inst, text) {
			ex.Err = fmt.Errorf("simulated failure for %q", text)
			ex.Reply = ""
			s.record(ex)
			return "", ex.Err
		}
		if replies, ok := lookup(inst.Replies, text); ok && len(replies) > 0 {
			key := address + "\x00" + text
			i := s.cursor[key]
			if i >= len(replies) {
				i = len(replies) - 1
			}
			ex.Reply = replies[i]
			s.cursor[key] = i + 1
		}
	}
	s.record(ex)
	return ex.Reply, nil
}

// QueryBinary returns the scripted binary payload for text.
func (s *Sim) QueryBinary(ctx context.Context, address, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	text = normalize(text)
	ex := Exchange{Address: address, Op: "binary", Text: text}

	inst, ok := s.instrument(address)
	if ok && s.fails(inst, text) {
		ex.Err = fmt.Errorf("simulated failure for %q", text)
		s.record(ex)
		return nil, ex.Err
	}
	if ok {
		if payload, found := lookup(inst.Binary, text); found {
			ex.Reply = payload
		}
	}
	s.record(ex)
	return []byte(ex.Reply), nil
}

// History returns every recorded call.
func (s *Sim) History() []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Exchange(nil), s.history...)
}

// lookup finds text in m ignoring case, as SCPI does.
func lookup[V any](m map[string]V, text string) (V, bool) {
	if v, ok := m[text]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(normalize(k), text) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

var _ Transport = (*Sim)(nil)
