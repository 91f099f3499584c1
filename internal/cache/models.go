package cache

import (
	"encoding/json"
	"errors"
	"io/fs"

	"github.com/spf13/afero"

	"buildsync/internal/model"
	"buildsync/internal/syncerr"
)

const modelCacheFormat = 1

// ModelCache is the last fetched model, kept beside the snapshot so a valid
// snapshot can rebuild the graph without asking the build tool again.
// Selected remembers the variant chosen per module name.
type ModelCache struct {
	Format   int                      `json:"format"`
	Project  model.Project            `json:"project"`
	Modules  []string                 `json:"modules"`
	Models   map[string]*model.Module `json:"models"`
	Selected map[string]string        `json:"selected,omitempty"`
}

// NewModelCache captures proj and the current selections.
func NewModelCache(proj *model.Project, selected map[string]string) *ModelCache {
	c := &ModelCache{
		Format:   modelCacheFormat,
		Project:  *proj,
		Modules:  make([]string, 0, len(proj.Modules)),
		Models:   make(map[string]*model.Module, len(proj.Modules)),
		Selected: selected,
	}
	c.Project.Modules = nil
	for i := range proj.Modules {
		m := proj.Modules[i]
		c.Modules = append(c.Modules, m.Identity)
		c.Models[m.Identity] = &m
	}
	return c
}

// Complete reports whether every listed module has a stored model. A partial
// cache must not be used to short-circuit a sync.
func (c *ModelCache) Complete() bool {
	if c == nil || c.Format != modelCacheFormat || len(c.Modules) == 0 {
		return false
	}
	for _, id := range c.Modules {
		if m, ok := c.Models[id]; !ok || m == nil {
			return false
		}
	}
	return true
}

// ToProject rebuilds the model in the original module order.
func (c *ModelCache) ToProject() *model.Project {
	p := c.Project
	p.Modules = make([]model.Module, 0, len(c.Modules))
	for _, id := range c.Modules {
		if m, ok := c.Models[id]; ok && m != nil {
			p.Modules = append(p.Modules, *m)
		}
	}
	return &p
}

// SaveModels writes c atomically to path.
func (s *Store) SaveModels(c *ModelCache, path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return syncerr.New(syncerr.KindPersistFailure, "encode model cache", err)
	}
	if err := s.writeAtomic(path, b); err != nil {
		_ = s.Remove(path)
		return syncerr.New(syncerr.KindPersistFailure, "write model cache "+path, err)
	}
	return nil
}

// LoadModels reads a model cache. Missing or unreadable files yield nil.
func (s *Store) LoadModels(path string) *ModelCache {
	b, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("read model cache", "path", path, "err", err)
		}
		return nil
	}
	var c ModelCache
	if err := json.Unmarshal(b, &c); err != nil {
		s.logger.Warn("model cache corrupt", "path", path, "err", err)
		return nil
	}
	return &c
}
