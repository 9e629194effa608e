package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const metadataFileName = "projects.json"

// SubItemMetadata mirrors one created sub-item in the tracker.
type SubItemMetadata struct {
	ItemNumber int      `json:"item_number"`
	URL        string   `json:"url,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty"`
	Blocks     []string `json:"blocks,omitempty"`
	Status     string   `json:"status"`
}

// ProjectMetadata is the locally cached record of one initialized
// project. Written only by the initializer, and only after every
// external creation step succeeded.
type ProjectMetadata struct {
	ProjectID   string                     `json:"project_id"`
	Title       string                     `json:"title"`
	ParentItem  int                        `json:"parent_item"`
	MilestoneID int                        `json:"milestone_id"`
	Phases      map[string]SubItemMetadata `json:"phases"`
	CreatedAt   time.Time                  `json:"created_at"`
}

// MetadataStore persists project metadata as one JSON file in the
// state directory, using the same atomic write-replace scheme as the
// phase store.
type MetadataStore struct {
	dir    string
	logger *zap.Logger
}

// NewMetadataStore creates a store rooted at dir.
func NewMetadataStore(dir string, logger *zap.Logger) (*MetadataStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &MetadataStore{dir: dir, logger: logger.Named("project")}, nil
}

type metadataFile struct {
	Version  int                         `json:"version"`
	Projects map[string]*ProjectMetadata `json:"projects"`
}

func (s *MetadataStore) path() string {
	return filepath.Join(s.dir, metadataFileName)
}

func (s *MetadataStore) load() (*metadataFile, error) {
	content, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return &metadataFile{Version: 1, Projects: map[string]*ProjectMetadata{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read project metadata: %w", err)
	}

	var file metadataFile
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("project metadata is corrupt: %w", err)
	}
	if file.Projects == nil {
		file.Projects = map[string]*ProjectMetadata{}
	}
	return &file, nil
}

// Save persists meta, replacing any previous record with the same
// project id.
func (s *MetadataStore) Save(meta *ProjectMetadata) error {
	file, err := s.load()
	if err != nil {
		return err
	}
	file.Projects[meta.ProjectID] = meta

	content, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project metadata: %w", err)
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write project metadata: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("replace project metadata: %w", err)
	}

	s.logger.Debug("project metadata saved",
		zap.String("project_id", meta.ProjectID),
		zap.Int("phases", len(meta.Phases)))
	return nil
}

// Get returns the metadata for a project id, or nil.
func (s *MetadataStore) Get(projectID string) (*ProjectMetadata, error) {
	file, err := s.load()
	if err != nil {
		return nil, err
	}
	return file.Projects[projectID], nil
}

// All returns every cached project.
func (s *MetadataStore) All() ([]*ProjectMetadata, error) {
	file, err := s.load()
	if err != nil {
		return nil, err
	}
	projects := make([]*ProjectMetadata, 0, len(file.Projects))
	for _, meta := range file.Projects {
		projects = append(projects, meta)
	}
	return projects, nil
}

// FindByItem locates the project and phase id a tracker item number
// belongs to. Returns ("", nil) when the item is not cached.
func (s *MetadataStore) FindByItem(itemNumber int) (*ProjectMetadata, string, error) {
	file, err := s.load()
	if err != nil {
		return nil, "", err
	}
	for _, meta := range file.Projects {
		for phaseID, sub := range meta.Phases {
			if sub.ItemNumber == itemNumber {
				return meta, phaseID, nil
			}
		}
	}
	return nil, "", nil
}
