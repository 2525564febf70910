package intake

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/aiemployee/errs"
	"github.com/c360studio/aiemployee/vault"
)

// CheckpointStore persists one Checkpoint per watcher name as JSON.
type CheckpointStore struct {
	store *vault.Store
}

// NewCheckpointStore returns a CheckpointStore backed by store.
func NewCheckpointStore(store *vault.Store) *CheckpointStore {
	return &CheckpointStore{store: store}
}

func (c *CheckpointStore) path(watcherName string) string {
	return fmt.Sprintf("%s/%s.json", vault.DirCheckpoints, watcherName)
}

// Load returns the persisted checkpoint for watcherName, or a zero-value
// healthy checkpoint if none exists yet.
func (c *CheckpointStore) Load(watcherName string) (*Checkpoint, error) {
	if !c.store.Exists(c.path(watcherName)) {
		return &Checkpoint{Health: HealthHealthy}, nil
	}
	data, err := c.store.Read(c.path(watcherName))
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errs.Precondition(fmt.Sprintf("parse checkpoint for %s", watcherName), err)
	}
	return &cp, nil
}

// Save persists cp for watcherName atomically.
func (c *CheckpointStore) Save(watcherName string, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return errs.Vault("marshal checkpoint", err)
	}
	return c.store.WriteAtomic(c.path(watcherName), data)
}
