// Package profile persists enrolled speaker profiles as one JSON file
// per speaker. At most one profile is primary at any time; SetPrimary
// repairs stores left with zero or multiple primaries.
//
// The store performs no cross-process locking. Concurrent writers to
// the same profile race with last-writer-wins semantics.
package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Profile is a named speaker's persisted enrollment record.
type Profile struct {
	Name       string      `json:"name"`
	Embeddings [][]float32 `json:"embeddings"`
	IsPrimary  bool        `json:"is_primary"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// NotFoundError reports an operation against an unknown profile name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("speaker not found: %s", e.Name)
}

// Store reads and writes profiles under a single directory.
type Store struct {
	dir   string
	log   *slog.Logger
	clock func() time.Time
}

func Open(dir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profiles dir: %w", err)
	}
	return &Store{
		dir:   dir,
		log:   log.With(slog.String("component", "profile-store")),
		clock: time.Now,
	}, nil
}

var nameSanitizer = strings.NewReplacer("/", "_", "\\", "_")

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, nameSanitizer.Replace(name)+".json")
}

// LoadAll reads every profile file in the store directory, sorted by
// filename. A file that fails to read or parse is logged and skipped;
// it never aborts the rest of the load.
func (s *Store) LoadAll() ([]Profile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read profiles dir: %w", err)
	}

	var profiles []Profile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("failed to read speaker profile",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			s.log.Warn("failed to parse speaker profile",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Save writes the whole profile as one file, refreshing UpdatedAt and
// stamping CreatedAt on first save.
func (s *Store) Save(p *Profile) error {
	now := s.clock().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Embeddings == nil {
		p.Embeddings = [][]float32{}
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode speaker profile: %w", err)
	}
	if err := os.WriteFile(s.path(p.Name), data, 0o644); err != nil {
		return fmt.Errorf("write speaker profile: %w", err)
	}
	return nil
}

// Delete removes the profile file if present. Deleting an unknown name
// is a no-op, not an error.
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete speaker profile: %w", err)
	}
	return nil
}

// GetPrimary returns the first loaded profile flagged primary, or nil.
func (s *Store) GetPrimary() (*Profile, error) {
	profiles, err := s.LoadAll()
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if profiles[i].IsPrimary {
			return &profiles[i], nil
		}
	}
	return nil, nil
}

// SetPrimary flags the named profile primary and clears the flag on
// every other profile, persisting only the profiles whose flag actually
// changed. Idempotent, and always leaves at most one primary even when
// the store starts with zero or several.
func (s *Store) SetPrimary(name string) error {
	profiles, err := s.LoadAll()
	if err != nil {
		return err
	}
	for i := range profiles {
		p := &profiles[i]
		changed := false
		if p.Name == name && !p.IsPrimary {
			p.IsPrimary = true
			changed = true
		} else if p.Name != name && p.IsPrimary {
			p.IsPrimary = false
			changed = true
		}
		if changed {
			if err := s.Save(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddEmbedding appends one embedding sample to an existing profile.
func (s *Store) AddEmbedding(name string, embedding []float32) error {
	profiles, err := s.LoadAll()
	if err != nil {
		return err
	}
	for i := range profiles {
		if profiles[i].Name == name {
			profiles[i].Embeddings = append(profiles[i].Embeddings, embedding)
			return s.Save(&profiles[i])
		}
	}
	return &NotFoundError{Name: name}
}
