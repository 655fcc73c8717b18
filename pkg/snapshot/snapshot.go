// Package snapshot holds the externally owned desired state: identities,
// tasks, manual pixels and run settings. Every field is guarded on its own
// and copied out on read, so readers never see a half-applied update.
package snapshot

import (
	"image"
	"slices"
	"sync"
)

// Identity is one credential set acting as an independent painter.
type Identity struct {
	ID        string
	AuthKey   string
	AuthToken string
	Proxy     string
	Enabled   bool
}

// Task is a target image anchored at (X, Y). Image is already quantized to
// the palette; transparent pixels carry no target.
type Task struct {
	ID      string
	Image   *image.NRGBA
	X, Y    int
	Repeat  bool
	Enabled bool
}

// Clone deep-copies the task image.
func (t Task) Clone() Task {
	if t.Image != nil {
		img := *t.Image
		img.Pix = slices.Clone(t.Image.Pix)
		t.Image = &img
	}
	return t
}

// ManualPixel is a one-off colour override in palette index space.
type ManualPixel struct {
	X     int `yaml:"x"`
	Y     int `yaml:"y"`
	Color int `yaml:"color"`
}

// Settings select the board and how to paint it.
type Settings struct {
	// CanvasID selects the board; values <= 0 mean no board is active.
	CanvasID int
	Strategy string
	Speed    float64
}

// Snapshot is safe for concurrent use.
type Snapshot struct {
	idMu       sync.RWMutex
	identities []Identity

	taskMu sync.RWMutex
	tasks  []Task

	manualMu sync.RWMutex
	manual   []ManualPixel

	setMu    sync.RWMutex
	settings Settings

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

func New() *Snapshot { return &Snapshot{subs: make(map[int]func())} }

// Subscribe registers fn to run after every change. It returns a function
// that removes the subscription.
func (s *Snapshot) Subscribe(fn func()) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Snapshot) changed() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Snapshot) Identities() []Identity {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return slices.Clone(s.identities)
}

// EnabledIdentities returns enabled identities in declaration order.
func (s *Snapshot) EnabledIdentities() []Identity {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	out := make([]Identity, 0, len(s.identities))
	for _, id := range s.identities {
		if id.Enabled {
			out = append(out, id)
		}
	}
	return out
}

func (s *Snapshot) SetIdentities(ids []Identity) {
	s.idMu.Lock()
	s.identities = slices.Clone(ids)
	s.idMu.Unlock()
	s.changed()
}

// SetIdentityEnabled toggles one identity and reports whether it exists.
func (s *Snapshot) SetIdentityEnabled(id string, enabled bool) bool {
	s.idMu.Lock()
	found := false
	for i := range s.identities {
		if s.identities[i].ID == id {
			s.identities[i].Enabled = enabled
			found = true
		}
	}
	s.idMu.Unlock()
	if found {
		s.changed()
	}
	return found
}

func (s *Snapshot) Tasks() []Task {
	s.taskMu.RLock()
	defer s.taskMu.RUnlock()
	out := make([]Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

// EnabledTasks returns clones of the enabled tasks.
func (s *Snapshot) EnabledTasks() []Task {
	s.taskMu.RLock()
	defer s.taskMu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.Enabled && t.Image != nil {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (s *Snapshot) SetTasks(tasks []Task) {
	cp := make([]Task, len(tasks))
	for i, t := range tasks {
		cp[i] = t.Clone()
	}
	s.taskMu.Lock()
	s.tasks = cp
	s.taskMu.Unlock()
	s.changed()
}

// UpsertTask replaces the task with the same id or appends it.
func (s *Snapshot) UpsertTask(t Task) {
	t = t.Clone()
	s.taskMu.Lock()
	i := slices.IndexFunc(s.tasks, func(x Task) bool { return x.ID == t.ID })
	if i >= 0 {
		s.tasks[i] = t
	} else {
		s.tasks = append(s.tasks, t)
	}
	s.taskMu.Unlock()
	s.changed()
}

// RemoveTask deletes the task with id and reports whether it existed.
func (s *Snapshot) RemoveTask(id string) bool {
	s.taskMu.Lock()
	n := len(s.tasks)
	s.tasks = slices.DeleteFunc(s.tasks, func(t Task) bool { return t.ID == id })
	removed := len(s.tasks) != n
	s.taskMu.Unlock()
	if removed {
		s.changed()
	}
	return removed
}

func (s *Snapshot) ManualPixels() []ManualPixel {
	s.manualMu.RLock()
	defer s.manualMu.RUnlock()
	return slices.Clone(s.manual)
}

func (s *Snapshot) SetManualPixels(px []ManualPixel) {
	s.manualMu.Lock()
	s.manual = slices.Clone(px)
	s.manualMu.Unlock()
	s.changed()
}

// AddManual appends overrides; a later override for the same cell replaces
// the earlier one.
func (s *Snapshot) AddManual(px ...ManualPixel) {
	if len(px) == 0 {
		return
	}
	s.manualMu.Lock()
	for _, p := range px {
		s.manual = slices.DeleteFunc(s.manual, func(m ManualPixel) bool { return m.X == p.X && m.Y == p.Y })
		s.manual = append(s.manual, p)
	}
	s.manualMu.Unlock()
	s.changed()
}

// RemoveManual drops the given overrides (matched on cell and colour) and
// returns how many were removed.
func (s *Snapshot) RemoveManual(px ...ManualPixel) int {
	if len(px) == 0 {
		return 0
	}
	s.manualMu.Lock()
	n := len(s.manual)
	s.manual = slices.DeleteFunc(s.manual, func(m ManualPixel) bool { return slices.Contains(px, m) })
	removed := n - len(s.manual)
	s.manualMu.Unlock()
	if removed > 0 {
		s.changed()
	}
	return removed
}

func (s *Snapshot) Settings() Settings {
	s.setMu.RLock()
	defer s.setMu.RUnlock()
	return s.settings
}

func (s *Snapshot) SetSettings(st Settings) {
	s.setMu.Lock()
	s.settings = st
	s.setMu.Unlock()
	s.changed()
}
