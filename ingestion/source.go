// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/viant/afs"
)

// FileSource lists and reads the files of a folder.
type FileSource interface {
	// List returns every file below root, recursively, in lexical order.
	List(ctx context.Context, root string) ([]string, error)

	// Read returns the contents of a file returned by List.
	Read(ctx context.Context, name string) ([]byte, error)
}

// AFSSource reads local and remote folders through afs. Roots may be local
// paths or URLs such as file://, s3:// or gs://.
type AFSSource struct {
	fs afs.Service
}

var _ FileSource = (*AFSSource)(nil)

// NewAFSSource creates a source backed by afs.
func NewAFSSource() *AFSSource {
	return &AFSSource{fs: afs.New()}
}

// List walks root recursively.
func (s *AFSSource) List(ctx context.Context, root string) ([]string, error) {
	location, err := toURL(root)
	if err != nil {
		return nil, err
	}
	var files []string
	if err := s.walk(ctx, location, &files); err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

func (s *AFSSource) walk(ctx context.Context, location string, files *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	objects, err := s.fs.List(ctx, location)
	if err != nil {
		return fmt.Errorf("listing %s: %w", location, err)
	}
	for i, obj := range objects {
		if obj.IsDir() {
			// The listed location comes back as its own first entry.
			if i == 0 || sameLocation(obj.URL(), location) {
				continue
			}
			if err := s.walk(ctx, obj.URL(), files); err != nil {
				return err
			}
			continue
		}
		*files = append(*files, obj.URL())
	}
	return nil
}

// Read downloads a file.
func (s *AFSSource) Read(ctx context.Context, name string) ([]byte, error) {
	location, err := toURL(name)
	if err != nil {
		return nil, err
	}
	return s.fs.DownloadWithURL(ctx, location)
}

func toURL(location string) (string, error) {
	if strings.Contains(location, "://") {
		return location, nil
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func sameLocation(a, b string) bool {
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}

// MemorySource is an in-memory FileSource keyed by slash-separated paths.
type MemorySource struct {
	mu    sync.RWMutex
	files map[string][]byte
}

var _ FileSource = (*MemorySource)(nil)

// NewMemorySource creates a source holding files.
func NewMemorySource(files map[string][]byte) *MemorySource {
	m := &MemorySource{files: make(map[string][]byte, len(files))}
	for name, data := range files {
		m.files[name] = data
	}
	return m
}

// Put adds or replaces a file.
func (m *MemorySource) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = data
}

// List returns the files under root.
func (m *MemorySource) List(ctx context.Context, root string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := strings.TrimSuffix(root, "/") + "/"
	var files []string
	for name := range m.files {
		if root == "" || strings.HasPrefix(name, prefix) {
			files = append(files, name)
		}
	}
	slices.Sort(files)
	return files, nil
}

// Read returns a file's contents.
func (m *MemorySource) Read(ctx context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: file not found", name)
	}
	return data, nil
}
