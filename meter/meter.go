package meter

import (
	"sync"
	"sync/atomic"
)

type Role string

const (
	RoleCapture  Role = "capture"
	RolePlayback Role = "playback"
)

// Meter owns one analyser node per role. Nodes are built on first attach
// and reused for the life of the Meter.
type Meter struct {
	fftSize   int
	smoothing float64

	mu      sync.Mutex
	nodes   map[Role]*Analyser
	handles map[Role]*Handle
	builds  int
	closed  bool
}

// Handle is the wiring point between a stream and its role's analyser.
type Handle struct {
	role     Role
	node     *Analyser
	detached atomic.Bool
	scratch  []byte
	mu       sync.Mutex
}

func New(fftSize int, smoothing float64) (*Meter, error) {
	if _, err := NewAnalyser(fftSize, smoothing); err != nil {
		return nil, err
	}
	return &Meter{
		fftSize:   fftSize,
		smoothing: smoothing,
		nodes:     make(map[Role]*Analyser),
		handles:   make(map[Role]*Handle),
	}, nil
}

// Attach wires a stream into role's analyser. Attaching a role that is
// already wired returns the existing handle.
func (m *Meter) Attach(role Role) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[role]; ok {
		return h
	}
	node, ok := m.nodes[role]
	if !ok {
		node, _ = NewAnalyser(m.fftSize, m.smoothing)
		m.nodes[role] = node
		m.builds++
	} else {
		node.Reset()
	}
	h := &Handle{role: role, node: node}
	if m.closed {
		h.detached.Store(true)
		return h
	}
	m.handles[role] = h
	return h
}

// Sample returns the current level of h in [0, 1]; 0 for a nil or
// detached handle.
func (m *Meter) Sample(h *Handle) float64 {
	if h == nil || h.detached.Load() {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scratch = h.node.ByteFrequencyData(h.scratch)
	return Level(h.scratch)
}

func (m *Meter) Detach(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h.detached.Store(true)
	if m.handles[h.role] == h {
		delete(m.handles, h.role)
	}
}

// Builds reports how many analyser nodes have been constructed.
func (m *Meter) Builds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.builds
}

// Close detaches every handle and drops the nodes.
func (m *Meter) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for role, h := range m.handles {
		h.detached.Store(true)
		delete(m.handles, role)
	}
	clear(m.nodes)
	m.closed = true
}

func (h *Handle) Role() Role { return h.role }

// Write feeds S16LE mono PCM into the analyser. Writes after Detach are dropped.
func (h *Handle) Write(pcm []byte) {
	if h == nil || h.detached.Load() {
		return
	}
	h.node.Write(pcm)
}
