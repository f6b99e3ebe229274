package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/claude-harbor/agentd/internal/errors"
	"github.com/claude-harbor/agentd/internal/logger"
	"github.com/claude-harbor/agentd/internal/models"
)

const (
	// MetadataFileName is the name of the metadata file for each project
	MetadataFileName = "metadata.json"
	// ProjectsDirName is the name of the projects directory
	ProjectsDirName = "projects"
)

// ProjectPersistence handles saving and loading project metadata
type ProjectPersistence struct {
	dataDir  string
	mu       sync.Mutex
	logger   *logger.Logger
	recovery *CorruptionRecovery
}

// NewProjectPersistence creates a new project persistence handler
func NewProjectPersistence(dataDir string) (*ProjectPersistence, error) {
	projectsDir := filepath.Join(dataDir, ProjectsDirName)

	// Create projects directory if it doesn't exist
	if err := os.MkdirAll(projectsDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeFileOperation, "failed to create projects directory")
	}

	pp := &ProjectPersistence{
		dataDir: projectsDir,
		logger:  logger.New("info"),
	}
	pp.recovery = NewCorruptionRecovery(pp)

	return pp, nil
}

// SaveProjectMetadata saves project metadata atomically. It backs up the
// previous metadata file first so a write that is interrupted mid-rename
// still leaves something for loadProject's corruption recovery to fall
// back to.
func (pp *ProjectPersistence) SaveProjectMetadata(project *models.Project) error {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	// Create project directory
	projectDir := filepath.Join(pp.dataDir, project.ID)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return errors.Wrap(err, errors.CodeFileOperation, "failed to create project directory")
	}

	if err := pp.recovery.createBackupLocked(project.ID); err != nil {
		pp.logger.Warn("Failed to back up project metadata before write",
			"project_id", project.ID, "error", err)
	}

	// Convert to metadata
	metadata := project.ToMetadata()

	// Marshal to JSON with indentation for readability
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeJSONParsing, "failed to marshal project metadata")
	}

	// Write atomically using temp file + rename
	metadataPath := filepath.Join(projectDir, MetadataFileName)
	if err := writeFileAtomic(metadataPath, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeFileOperation, "failed to write metadata file")
	}

	return nil
}

// LoadProjects loads all projects from disk
func (pp *ProjectPersistence) LoadProjects() ([]*models.Project, error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	// Read projects directory
	entries, err := os.ReadDir(pp.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			// No projects yet
			return []*models.Project{}, nil
		}
		return nil, errors.Wrap(err, errors.CodeFileOperation, "failed to read projects directory")
	}

	var projects []*models.Project
	var loadErrors []error

	// Load each project
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		project, err := pp.loadProject(entry.Name())
		if err != nil {
			// The metadata file didn't parse; try to recover from a
			// backup or a leftover temp file from an interrupted write
			// before giving up on this project entirely.
			if recErr := pp.recovery.RecoverProject(entry.Name()); recErr == nil {
				pp.logger.Info("Recovered corrupted project metadata, retrying load",
					"project_id", entry.Name())
				if project, err = pp.loadProject(entry.Name()); err == nil {
					projects = append(projects, project)
					continue
				}
			}

			loadErrors = append(loadErrors, errors.Wrap(err, errors.CodeFileOperation, "project %s", entry.Name()))
			pp.logger.Error("Failed to load project", "project_id", entry.Name(), "error", err)
			continue
		}

		projects = append(projects, project)
	}

	// Log summary if there were errors
	if len(loadErrors) > 0 {
		pp.logger.Warn("Some projects failed to load",
			"total", len(entries),
			"loaded", len(projects),
			"failed", len(loadErrors))
	}

	return projects, nil
}

// DeleteProjectData removes all data for a project
func (pp *ProjectPersistence) DeleteProjectData(projectID string) error {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	projectDir := filepath.Join(pp.dataDir, projectID)

	// Check if directory exists
	if _, err := os.Stat(projectDir); os.IsNotExist(err) {
		return nil // Already deleted
	}

	// Remove entire project directory
	if err := os.RemoveAll(projectDir); err != nil {
		return errors.Wrap(err, errors.CodeFileOperation, "failed to delete project data")
	}

	return nil
}

// loadProject loads a single project from disk
func (pp *ProjectPersistence) loadProject(projectID string) (*models.Project, error) {
	metadataPath := filepath.Join(pp.dataDir, projectID, MetadataFileName)

	// Read metadata file
	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeFileOperation, "failed to read metadata file")
	}

	// Unmarshal metadata
	var metadata models.ProjectMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, errors.Wrap(err, errors.CodeJSONParsing, "failed to unmarshal metadata")
	}

	// Validate metadata
	if metadata.ID == "" || metadata.Path == "" {
		return nil, errors.New(errors.CodeValidationFailed, "invalid metadata: missing required fields")
	}

	// Create project from metadata
	project := models.FromMetadata(metadata)

	// Validate project
	if err := project.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationFailed, "invalid project data")
	}

	return project, nil
}

// GetProjectDirectory returns the directory path for a project
func (pp *ProjectPersistence) GetProjectDirectory(projectID string) string {
	return filepath.Join(pp.dataDir, projectID)
}

// writeFileAtomic writes data to a file atomically using rename
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	// Create temp file in same directory
	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.CodeFileOperation, "failed to create temp file")
	}
	tempPath := tempFile.Name()

	// Clean up temp file on error
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	// Write data
	if _, err := tempFile.Write(data); err != nil {
		return errors.Wrap(err, errors.CodeFileOperation, "failed to write data")
	}

	// Sync to disk
	if err := tempFile.Sync(); err != nil {
		return errors.Wrap(err, errors.CodeFileOperation, "failed to sync file")
	}

	// Close before rename
	if err := tempFile.Close(); err != nil {
		return errors.Wrap(err, errors.CodeFileOperation, "failed to close temp file")
	}
	tempFile = nil // Prevent defer cleanup

	// Set permissions
	if err := os.Chmod(tempPath, perm); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(err, errors.CodeFileOperation, "failed to set permissions")
	}

	// Atomically rename
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(err, errors.CodeFileOperation, "failed to rename file")
	}

	return nil
}

// CorruptionRecovery attempts to recover from corrupted project data
type CorruptionRecovery struct {
	persistence *ProjectPersistence
}

// NewCorruptionRecovery creates a new corruption recovery handler
func NewCorruptionRecovery(persistence *ProjectPersistence) *CorruptionRecovery {
	return &CorruptionRecovery{
		persistence: persistence,
	}
}

// RecoverProject attempts to recover a corrupted project. Called by
// LoadProjects when loadProject fails to parse a project's metadata file.
func (cr *CorruptionRecovery) RecoverProject(projectID string) error {
	projectDir := cr.persistence.GetProjectDirectory(projectID)
	metadataPath := filepath.Join(projectDir, MetadataFileName)

	// Check for backup files
	backupPath := metadataPath + ".backup"
	if _, err := os.Stat(backupPath); err == nil {
		// Try to restore from backup
		if err := os.Rename(backupPath, metadataPath); err != nil {
			return errors.Wrap(err, errors.CodeFileOperation, "failed to restore from backup")
		}
		cr.persistence.logger.Info("Recovered project from backup", "project_id", projectID)
		return nil
	}

	// Check for temp files that might contain valid data
	dir := filepath.Dir(metadataPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, errors.CodeFileOperation, "failed to read directory")
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".tmp-") {
			tmpPath := filepath.Join(dir, entry.Name())

			// Try to read and validate temp file
			data, err := os.ReadFile(tmpPath)
			if err != nil {
				continue
			}

			var metadata models.ProjectMetadata
			if err := json.Unmarshal(data, &metadata); err != nil {
				continue
			}

			// If valid, use it
			if metadata.ID == projectID && metadata.Path != "" {
				if err := os.Rename(tmpPath, metadataPath); err != nil {
					continue
				}
				cr.persistence.logger.Info("Recovered project from temp file", "project_id", projectID)
				return nil
			}
		}
	}

	return errors.New(errors.CodeFileOperation, "unable to recover project %s", projectID)
}

// CreateBackup creates a backup of project metadata before updates. Exposed
// for tests; production code goes through createBackupLocked, which skips
// re-acquiring persistence's mutex since SaveProjectMetadata already holds it.
func (cr *CorruptionRecovery) CreateBackup(projectID string) error {
	cr.persistence.mu.Lock()
	defer cr.persistence.mu.Unlock()
	return cr.createBackupLocked(projectID)
}

// createBackupLocked is CreateBackup's body, callable by a caller that
// already holds cr.persistence.mu.
func (cr *CorruptionRecovery) createBackupLocked(projectID string) error {
	projectDir := cr.persistence.GetProjectDirectory(projectID)
	metadataPath := filepath.Join(projectDir, MetadataFileName)
	backupPath := metadataPath + ".backup"

	// Copy current file to backup
	data, err := os.ReadFile(metadataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No existing file to backup
		}
		return errors.Wrap(err, errors.CodeFileOperation, "failed to read metadata")
	}

	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeFileOperation, "failed to create backup")
	}

	return nil
}
