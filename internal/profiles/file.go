package profiles

import (
	"context"
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"freshanon/internal/models"
)

// FileStore serves profiles from a JSON array loaded once at startup.
type FileStore struct {
	profiles map[string]*models.Profile
}

func LoadFile(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles %s: %w", path, err)
	}
	var list []*models.Profile
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode profiles %s: %w", path, err)
	}

	fs := &FileStore{profiles: make(map[string]*models.Profile, len(list))}
	for i, p := range list {
		id := strings.TrimSpace(p.ParticipantID)
		if id == "" {
			return nil, fmt.Errorf("profiles %s: entry %d has no participant_id", path, i)
		}
		p.ParticipantID = id
		fs.profiles[id] = p
	}
	return fs, nil
}

func (fs *FileStore) GetProfile(_ context.Context, participantID string) (*models.Profile, error) {
	p, ok := fs.profiles[participantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, participantID)
	}
	c := *p
	if p.Interests != nil {
		c.Interests = append([]string(nil), p.Interests...)
	}
	return &c, nil
}

func (fs *FileStore) Len() int {
	return len(fs.profiles)
}
