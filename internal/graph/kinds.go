// SPDX-License-Identifier: MIT

/*
Package graph is the analysis dataflow graph.

Each node is a goroutine that pulls Packets from its own queue, processes
them and forwards results to its peers or publishes them on the bus. The
Hierarchy builds one sub-graph per logical channel under a single root:

	Root
	└── FrequencyCoordinator
	    ├── SpectrumCoordinator
	    │   ├── pitch worker (ZC, AC, FFT or HPS)
	    │   └── BandsWorker
	    ├── FFTSCoordinator
	    │   └── SpectrogramCoordinator
	    │       └── GenrePredictor
	    └── BPMCoordinator
	        └── BPMWorker

Node kinds are a closed enumeration with a factory per kind; RegisterKind
adds custom kinds.
*/
package graph

import (
	"fmt"
	"sync"

	"soundscope/internal/config"
)

// Kind identifies a node implementation.
type Kind int

// Built-in kinds.
const (
	KindRoot Kind = iota
	KindFrequency
	KindSpectrum
	KindFFTS
	KindSpectrogram
	KindBPM
	KindBPMWorker
	KindZeroCrossings
	KindAutoCorrelation
	KindFFTPitch
	KindHPS
	KindBands
	KindGenre

	firstCustomKind
)

// Role says whether a node may have children.
type Role int

const (
	RoleWorker Role = iota
	RoleCoordinator
)

func (r Role) String() string {
	if r == RoleCoordinator {
		return "coordinator"
	}
	return "worker"
}

// QueueMode selects how a node reads its inbound queue.
type QueueMode int

const (
	// QueueLatest takes one packet at a time.
	QueueLatest QueueMode = iota
	// QueueDrain takes every pending packet at once, processes them in
	// order and then flushes.
	QueueDrain
)

// Factory builds the processor for one node.
type Factory func(env Env) (Processor, error)

// Spec describes a node kind.
type Spec struct {
	Name     string
	Role     Role
	Mode     QueueMode
	Capacity int // inbound queue capacity, 0 for unbounded
	New      Factory
}

var (
	registryMu sync.RWMutex
	specs      = map[Kind]Spec{}
	kindNames  = map[string]Kind{}
	nextKind   = firstCustomKind
)

func register(k Kind, s Spec) {
	specs[k] = s
	kindNames[s.Name] = k
}

func init() {
	register(KindRoot, Spec{Name: "Root", Role: RoleCoordinator, Mode: QueueLatest, New: newRoot})
	register(KindFrequency, Spec{Name: "FrequencyCoordinator", Role: RoleCoordinator, Mode: QueueDrain, New: newFrequency})
	register(KindSpectrum, Spec{Name: "SpectrumCoordinator", Role: RoleCoordinator, Mode: QueueLatest, Capacity: 1, New: newSpectrum})
	register(KindFFTS, Spec{Name: "FFTSCoordinator", Role: RoleCoordinator, Mode: QueueDrain, New: newFFTS})
	register(KindSpectrogram, Spec{Name: "SpectrogramCoordinator", Role: RoleCoordinator, Mode: QueueLatest, Capacity: 1, New: newSpectrogram})
	register(KindBPM, Spec{Name: "BPMCoordinator", Role: RoleCoordinator, Mode: QueueDrain, New: newBPM})
	register(KindBPMWorker, Spec{Name: "BPMWorker", Role: RoleWorker, Mode: QueueDrain, New: newBPMWorker})
	register(KindZeroCrossings, Spec{Name: "ZeroCrossingsWorker", Role: RoleWorker, Mode: QueueLatest, Capacity: 1, New: newZeroCrossings})
	register(KindAutoCorrelation, Spec{Name: "AutoCorrelationWorker", Role: RoleWorker, Mode: QueueLatest, Capacity: 1, New: newAutoCorrelation})
	register(KindFFTPitch, Spec{Name: "FFTWorker", Role: RoleWorker, Mode: QueueLatest, Capacity: 1, New: newFFTPitch})
	register(KindHPS, Spec{Name: "HPSWorker", Role: RoleWorker, Mode: QueueLatest, Capacity: 1, New: newHPS})
	register(KindBands, Spec{Name: "BandsWorker", Role: RoleWorker, Mode: QueueLatest, Capacity: 1, New: newBands})
	register(KindGenre, Spec{Name: "GenrePredictor", Role: RoleWorker, Mode: QueueLatest, Capacity: 1, New: newGenre})
}

// RegisterKind adds a custom node kind that AddNode can instantiate by name.
func RegisterKind(s Spec) (Kind, error) {
	if s.Name == "" || s.New == nil {
		return 0, fmt.Errorf("kind needs a name and a factory: %w", ErrShape)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := kindNames[s.Name]; dup {
		return 0, &GraphError{Op: "register", ID: s.Name, Err: ErrConflict}
	}
	k := nextKind
	nextKind++
	register(k, s)
	return k, nil
}

// LookupKind returns the kind registered under name.
func LookupKind(name string) (Kind, Spec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	k, ok := kindNames[name]
	if !ok {
		return 0, Spec{}, false
	}
	return k, specs[k], true
}

func specOf(k Kind) Spec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return specs[k]
}

func (k Kind) String() string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if s, ok := specs[k]; ok {
		return s.Name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// pitchKinds maps the configured pitch algorithm to its worker.
var pitchKinds = map[string]Kind{
	config.PitchZeroCrossings:   KindZeroCrossings,
	config.PitchAutoCorrelation: KindAutoCorrelation,
	config.PitchFFT:             KindFFTPitch,
	config.PitchHPS:             KindHPS,
}
