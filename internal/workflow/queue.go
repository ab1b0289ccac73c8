package workflow

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const queueFileName = "queue.yaml"

// Descriptor is a deferred workflow waiting in the queue.
type Descriptor struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Parent      string `yaml:"parent,omitempty"`
}

// Queue is a FIFO of descriptors stored as a YAML list.
type Queue struct {
	path string
}

// NewQueue creates a queue stored inside projectDir/.forge.
func NewQueue(projectDir string) *Queue {
	return &Queue{path: filepath.Join(projectDir, Dir, queueFileName)}
}

// List returns all queued descriptors in order.
func (q *Queue) List() ([]Descriptor, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	var items []Descriptor
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse queue: %w", err)
	}
	return items, nil
}

// Enqueue appends d to the end of the queue.
func (q *Queue) Enqueue(d Descriptor) error {
	if d.Title == "" && d.Description == "" {
		return fmt.Errorf("descriptor needs a title or description")
	}
	items, err := q.List()
	if err != nil {
		return err
	}
	return q.write(append(items, d))
}

// Dequeue removes and returns the first descriptor, or nil when empty.
func (q *Queue) Dequeue() (*Descriptor, error) {
	items, err := q.List()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	first := items[0]
	if err := q.write(items[1:]); err != nil {
		return nil, err
	}
	return &first, nil
}

func (q *Queue) write(items []Descriptor) error {
	if err := os.MkdirAll(filepath.Dir(q.path), 0755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}
	if items == nil {
		items = []Descriptor{}
	}
	data, err := yaml.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}
	tmpPath := fmt.Sprintf("%s.tmp.%d", q.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, q.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
