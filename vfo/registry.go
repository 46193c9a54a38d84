package vfo

import (
	"fmt"
	"log"
	"slices"
	"sync"
	"time"
)

// Registry owns the set of VFOs. Validation and application of every mutation happen under one lock,
// so concurrent calls cannot interleave between validating a configuration and applying it.
// Observers are notified after the lock is released.
type Registry struct {
	lock      sync.Mutex
	vfos      map[ID]*State
	maxVFOs   int
	spacing   SpacingTable
	factory   ResourceFactory
	observers []Observer
	now       func() time.Time
}

// NewRegistry returns a new registry. Without a resource factory, all VFOs stay idle.
func NewRegistry(maxVFOs int, spacing SpacingTable, factory ResourceFactory, observers ...Observer) *Registry {
	if spacing == nil {
		spacing = DefaultSpacing()
	}
	return &Registry{
		vfos:      make(map[ID]*State),
		maxVFOs:   maxVFOs,
		spacing:   spacing,
		factory:   factory,
		observers: observers,
		now:       time.Now,
	}
}

type notifications []func(Observer)

func (n *notifications) added(state State) {
	*n = append(*n, func(o Observer) { o.VFOAdded(state) })
}

func (n *notifications) updated(state State) {
	*n = append(*n, func(o Observer) { o.VFOUpdated(state) })
}

func (n *notifications) removed(id ID) {
	*n = append(*n, func(o Observer) { o.VFORemoved(id) })
}

func (n *notifications) warning(warning Warning) {
	log.Printf("vfo: %s", warning.Message)
	*n = append(*n, func(o Observer) { o.VFOWarning(warning) })
}

func (n *notifications) unknownID(id ID, operation string) {
	n.warning(Warning{
		Kind:    UnknownID,
		ID:      id,
		Message: fmt.Sprintf("%s: unknown vfo %d", operation, id),
	})
}

func (r *Registry) notify(n notifications) {
	for _, f := range n {
		for _, observer := range r.observers {
			f(observer)
		}
	}
}

// context must be called while holding the lock.
func (r *Registry) context(hw Hardware, exclude ID, excludeSet bool) ValidationContext {
	existing := make([]Config, 0, len(r.vfos))
	for _, state := range r.sortedStates() {
		if excludeSet && state.ID == exclude {
			continue
		}
		existing = append(existing, state.Config)
	}
	return ValidationContext{
		HardwareCenterHz: hw.CenterHz,
		SampleRateHz:     hw.SampleRateHz,
		ExistingVFOs:     existing,
		MaxVFOs:          r.maxVFOs,
		Spacing:          r.spacing,
	}
}

func (r *Registry) sortedStates() []*State {
	result := make([]*State, 0, len(r.vfos))
	for _, state := range r.vfos {
		result = append(result, state)
	}
	slices.SortFunc(result, func(a, b *State) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return result
}

// Add validates the given configuration and adds a new VFO. Validation errors leave the registry
// unchanged. If a resource factory is set, the demodulator and (if audio is enabled) the audio sink
// are created and the VFO becomes active.
func (r *Registry) Add(cfg Config, hw Hardware) (State, error) {
	var n notifications
	defer func() { r.notify(n) }()

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.vfos[cfg.ID]; ok {
		return State{}, fmt.Errorf("vfo %d: %w", cfg.ID, ErrDuplicateID)
	}

	warnings, err := Validate(cfg, r.context(hw, 0, false))
	if err != nil {
		return State{}, err
	}

	state := &State{
		Config: cfg.withDefaults(r.now()),
		Status: Idle,
	}
	if r.factory != nil {
		state.Demodulator, err = r.factory.NewDemodulator(state.Config)
		if err != nil {
			return State{}, fmt.Errorf("vfo %d: cannot create demodulator: %w", cfg.ID, err)
		}
		if state.AudioEnabled {
			state.AudioSink, err = r.factory.NewAudioSink(state.Config)
			if err != nil {
				r.teardown(state, &n)
				return State{}, fmt.Errorf("vfo %d: cannot create audio sink: %w", cfg.ID, err)
			}
		}
		state.Status = Active
	}
	r.vfos[state.ID] = state

	for _, warning := range warnings {
		n.warning(warning)
	}
	n.added(*state)
	return *state, nil
}

// Remove tears down the resources of the given VFO and removes it. It returns false if the VFO is
// unknown.
func (r *Registry) Remove(id ID) bool {
	var n notifications
	defer func() { r.notify(n) }()

	r.lock.Lock()
	defer r.lock.Unlock()

	state, ok := r.vfos[id]
	if !ok {
		n.unknownID(id, "remove")
		return false
	}

	r.teardown(state, &n)
	delete(r.vfos, id)
	n.removed(id)
	return true
}

// Clear tears down and removes all VFOs.
func (r *Registry) Clear() {
	var n notifications
	defer func() { r.notify(n) }()

	r.lock.Lock()
	defer r.lock.Unlock()

	for _, state := range r.sortedStates() {
		r.teardown(state, &n)
		delete(r.vfos, state.ID)
		n.removed(state.ID)
	}
}

// teardown releases the resources of the given VFO, the demodulator first, then the audio sink.
func (r *Registry) teardown(state *State, n *notifications) {
	if state.Demodulator != nil {
		if err := state.Demodulator.Close(); err != nil {
			n.warning(Warning{Kind: TeardownFailed, ID: state.ID, Message: fmt.Sprintf("vfo %d: cannot close demodulator: %v", state.ID, err)})
		}
		state.Demodulator = nil
		log.Printf("vfo: %d demodulator released", state.ID)
	}
	r.closeAudioSink(state, n)
	state.Status = Idle
}

func (r *Registry) closeAudioSink(state *State, n *notifications) {
	if state.AudioSink == nil {
		return
	}
	if err := state.AudioSink.Close(); err != nil {
		n.warning(Warning{Kind: TeardownFailed, ID: state.ID, Message: fmt.Sprintf("vfo %d: cannot close audio sink: %v", state.ID, err)})
	}
	state.AudioSink = nil
	log.Printf("vfo: %d audio sink released", state.ID)
}

// Update merges the patch into the configuration of the given VFO and validates the result against all
// other VFOs before applying it. It returns false if the VFO is unknown.
func (r *Registry) Update(id ID, patch Patch, hw Hardware) (bool, error) {
	var n notifications
	defer func() { r.notify(n) }()

	r.lock.Lock()
	defer r.lock.Unlock()

	state, ok := r.vfos[id]
	if !ok {
		n.unknownID(id, "update")
		return false, nil
	}

	merged := patch.apply(state.Config)
	merged.ID = id
	warnings, err := Validate(merged, r.context(hw, id, true))
	if err != nil {
		return true, err
	}

	var sink AudioSink
	if merged.AudioEnabled && state.AudioSink == nil && state.Demodulator != nil {
		sink, err = r.factory.NewAudioSink(merged)
		if err != nil {
			return true, fmt.Errorf("vfo %d: cannot create audio sink: %w", id, err)
		}
	}
	if state.Demodulator != nil {
		if err := state.Demodulator.Reconfigure(merged); err != nil {
			if sink != nil {
				if closeErr := sink.Close(); closeErr != nil {
					n.warning(Warning{Kind: TeardownFailed, ID: id, Message: fmt.Sprintf("vfo %d: cannot close audio sink: %v", id, closeErr)})
				}
			}
			return true, fmt.Errorf("vfo %d: cannot reconfigure demodulator: %w", id, err)
		}
	}
	if sink != nil {
		state.AudioSink = sink
	} else if !merged.AudioEnabled {
		r.closeAudioSink(state, &n)
	}
	state.Config = merged

	for _, warning := range warnings {
		n.warning(warning)
	}
	n.updated(*state)
	return true, nil
}

// UpdateState changes the runtime fields of the given VFO without any validation. Observers are only
// notified about status changes. It returns false if the VFO is unknown.
func (r *Registry) UpdateState(id ID, patch StatePatch) bool {
	var n notifications
	defer func() { r.notify(n) }()

	r.lock.Lock()
	defer r.lock.Unlock()

	state, ok := r.vfos[id]
	if !ok {
		n.unknownID(id, "update state")
		return false
	}

	if patch.Metrics != nil {
		state.Metrics = *patch.Metrics
	}
	if patch.Status != nil && *patch.Status != state.Status {
		state.Status = *patch.Status
		n.updated(*state)
	}
	return true
}

// SetAudioEnabled creates or releases the audio sink of the given VFO. It returns false if the VFO is
// unknown.
func (r *Registry) SetAudioEnabled(id ID, enabled bool) (bool, error) {
	var n notifications
	defer func() { r.notify(n) }()

	r.lock.Lock()
	defer r.lock.Unlock()

	state, ok := r.vfos[id]
	if !ok {
		n.unknownID(id, "set audio")
		return false, nil
	}
	if state.AudioEnabled == enabled {
		return true, nil
	}

	cfg := state.Config
	cfg.AudioEnabled = enabled
	if err := r.applyAudioEnabled(state, cfg, &n); err != nil {
		return true, err
	}
	state.Config = cfg
	n.updated(*state)
	return true, nil
}

func (r *Registry) applyAudioEnabled(state *State, cfg Config, n *notifications) error {
	switch {
	case cfg.AudioEnabled && state.AudioSink == nil && state.Demodulator != nil:
		sink, err := r.factory.NewAudioSink(cfg)
		if err != nil {
			return fmt.Errorf("vfo %d: cannot create audio sink: %w", state.ID, err)
		}
		state.AudioSink = sink
	case !cfg.AudioEnabled && state.AudioSink != nil:
		r.closeAudioSink(state, n)
	}
	return nil
}

func (r *Registry) Get(id ID) (State, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	state, ok := r.vfos[id]
	if !ok {
		return State{}, false
	}
	return *state, true
}

// GetAll returns a snapshot of all VFOs, ordered by id.
func (r *Registry) GetAll() []State {
	r.lock.Lock()
	defer r.lock.Unlock()

	result := make([]State, 0, len(r.vfos))
	for _, state := range r.sortedStates() {
		result = append(result, *state)
	}
	return result
}

// GetActive returns a snapshot of all active VFOs, ordered by id.
func (r *Registry) GetActive() []State {
	r.lock.Lock()
	defer r.lock.Unlock()

	result := make([]State, 0, len(r.vfos))
	for _, state := range r.sortedStates() {
		if state.Status == Active {
			result = append(result, *state)
		}
	}
	return result
}

func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.vfos)
}

// SetMaxVFOs changes the limit for following additions. Existing VFOs are kept.
func (r *Registry) SetMaxVFOs(n int) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.maxVFOs = n
}

func (r *Registry) MaxVFOs() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.maxVFOs
}
