package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SnapshotManager manages named bookmarks of the report publish position.
// A snapshot lets a client ask for "every report since I started looking".
type SnapshotManager struct {
	sync.RWMutex
	snapshots map[string]*Snapshot
}

// Snapshot is a point-in-time bookmark in the report buffer.
type Snapshot struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Position  int       `json:"position"` // absolute publish position
}

// NewSnapshotManager creates a new snapshot manager.
func NewSnapshotManager() *SnapshotManager {
	return &SnapshotManager{
		snapshots: make(map[string]*Snapshot),
	}
}

// Create records a snapshot at pos.
// Returns an error if a snapshot with the same name already exists.
func (sm *SnapshotManager) Create(name string, pos int) error {
	if name == "" {
		return fmt.Errorf("snapshot name cannot be empty")
	}

	sm.Lock()
	defer sm.Unlock()

	if _, exists := sm.snapshots[name]; exists {
		return fmt.Errorf("snapshot %q already exists", name)
	}

	sm.snapshots[name] = &Snapshot{
		Name:      name,
		CreatedAt: time.Now(),
		Position:  pos,
	}
	return nil
}

// Get retrieves a copy of a snapshot by name.
func (sm *SnapshotManager) Get(name string) (*Snapshot, error) {
	sm.RLock()
	defer sm.RUnlock()

	snap, exists := sm.snapshots[name]
	if !exists {
		return nil, fmt.Errorf("snapshot %q not found", name)
	}
	cp := *snap
	return &cp, nil
}

// List returns all snapshot names, sorted.
func (sm *SnapshotManager) List() []string {
	sm.RLock()
	defer sm.RUnlock()

	names := make([]string, 0, len(sm.snapshots))
	for name := range sm.snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete removes a snapshot by name.
func (sm *SnapshotManager) Delete(name string) error {
	sm.Lock()
	defer sm.Unlock()

	if _, exists := sm.snapshots[name]; !exists {
		return fmt.Errorf("snapshot %q not found", name)
	}
	delete(sm.snapshots, name)
	return nil
}

// Clear removes all snapshots. Positions restart at zero after the report
// store is cleared, so the two are cleared together.
func (sm *SnapshotManager) Clear() {
	sm.Lock()
	defer sm.Unlock()
	sm.snapshots = make(map[string]*Snapshot)
}

// Count returns the number of snapshots.
func (sm *SnapshotManager) Count() int {
	sm.RLock()
	defer sm.RUnlock()
	return len(sm.snapshots)
}
