// Package scheduler – storage.go defines TaskStorage and a JSON file
// implementation that keeps every task in one map keyed by id.
package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TaskStorage persists tasks across restarts.
type TaskStorage interface {
	Save(task *Task) error
	Delete(id string) error
	LoadAll() ([]*Task, error)
}

// FileTaskStorage persists tasks as a JSON file on disk.
type FileTaskStorage struct {
	path string
	mu   sync.Mutex
}

// NewFileTaskStorage creates the parent directory of path if needed.
func NewFileTaskStorage(path string) (*FileTaskStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileTaskStorage{path: path}, nil
}

// Save inserts or replaces a task.
func (s *FileTaskStorage) Save(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.readAll()
	if err != nil {
		return err
	}
	tasks[task.ID] = task
	return s.writeAll(tasks)
}

// Delete removes a task. Unknown ids are ignored.
func (s *FileTaskStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.readAll()
	if err != nil {
		return err
	}
	if _, ok := tasks[id]; !ok {
		return nil
	}
	delete(tasks, id)
	return s.writeAll(tasks)
}

// LoadAll returns every persisted task.
func (s *FileTaskStorage) LoadAll() ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t)
	}
	return out, nil
}

// readAll reads the file (caller must hold mu).
func (s *FileTaskStorage) readAll() (map[string]*Task, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Task), nil
		}
		return nil, err
	}
	tasks := make(map[string]*Task)
	if len(data) == 0 {
		return tasks, nil
	}
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parsing tasks file: %w", err)
	}
	return tasks, nil
}

// writeAll writes the file (caller must hold mu).
func (s *FileTaskStorage) writeAll(tasks map[string]*Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tasks: %w", err)
	}
	return os.WriteFile(s.path, data, 0o600)
}
