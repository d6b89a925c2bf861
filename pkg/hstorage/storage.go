// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// Package hstorage defines the Storage collaborator contract (spec
// §6) and two implementations: a disk-backed one built on naza's
// pluggable filesystem layer (the same abstraction
// pkg/hls/filesystemlayer.go wraps in the teacher), and an in-memory
// one used by the seed tests in spec §8.
package hstorage

import (
	"fmt"
	"sync"

	"github.com/q191201771/naza/pkg/filesystemlayer"
)

// Meta is the subset of Segment fields the writer hands to
// DeleteSegment so Storage can locate the bytes being evicted.
type Meta struct {
	VariantID    string
	ResourceName string
}

// Storage is the external collaborator contract from spec §6. Every
// method is synchronous. WriterCore never retries a failed call; it
// hands the error unchanged to nazalog.Assert and does not return it
// to its own caller.
type Storage interface {
	StoreMasterPlaylist(b []byte) error
	StorePlaylist(variantID string, b []byte) (uri string, err error)
	StoreInitHeader(variantID, resourceName string, b []byte) (uri string, err error)
	StoreSegment(variantID, resourceName string, b []byte) (uri string, err error)
	StorePart(variantID, resourceName string, b []byte) (uri string, err error)
	DeleteSegment(variantID string, meta Meta) error
}

// FileStorage persists artifacts under <dir>/<variantID>/<resourceName>,
// the same layout scheme as the teacher's getMuxerOutPath/getTSFilename
// helpers (pkg/hls/path.go), but driven through naza's FslFactory so
// callers can flip to an in-memory filesystem without changing this
// type (teacher: SetUseMemoryAsDiskFlag in pkg/hls/filesystemlayer.go).
type FileStorage struct {
	dir string
	fsl filesystemlayer.IFileSystemLayer
}

// NewFileStorage builds a FileStorage rooted at dir. useMemory selects
// naza's in-memory filesystem backend instead of disk, mirroring the
// teacher's FslTypeMemory/FslTypeDisk switch.
func NewFileStorage(dir string, useMemory bool) *FileStorage {
	t := filesystemlayer.FslTypeDisk
	if useMemory {
		t = filesystemlayer.FslTypeMemory
	}
	return &FileStorage{
		dir: dir,
		fsl: filesystemlayer.FslFactory(t),
	}
}

func (s *FileStorage) path(variantID, name string) string {
	return fmt.Sprintf("%s/%s/%s", s.dir, variantID, name)
}

func (s *FileStorage) write(variantID, name string, b []byte) (string, error) {
	p := s.path(variantID, name)
	if err := s.fsl.WriteFile(p, b, 0o666); err != nil {
		return "", err
	}
	return p, nil
}

func (s *FileStorage) StoreMasterPlaylist(b []byte) error {
	_, err := s.write("", "master.m3u8", b)
	return err
}

func (s *FileStorage) StorePlaylist(variantID string, b []byte) (string, error) {
	return s.write(variantID, "playlist.m3u8", b)
}

func (s *FileStorage) StoreInitHeader(variantID, resourceName string, b []byte) (string, error) {
	return s.write(variantID, resourceName, b)
}

func (s *FileStorage) StoreSegment(variantID, resourceName string, b []byte) (string, error) {
	return s.write(variantID, resourceName, b)
}

func (s *FileStorage) StorePart(variantID, resourceName string, b []byte) (string, error) {
	return s.write(variantID, resourceName, b)
}

func (s *FileStorage) DeleteSegment(variantID string, meta Meta) error {
	return s.fsl.RemoveAll(s.path(variantID, meta.ResourceName))
}

// MemStorage is a minimal in-memory Storage used by unit tests (spec
// §8 seed scenarios); it never touches the real filesystem.
type MemStorage struct {
	mu       sync.Mutex
	Master   []byte
	Objects  map[string][]byte // "<variantID>/<resourceName>" -> bytes
	Deleted  []Meta
	Playlist map[string][]byte // "<variantID>" -> last playlist bytes
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		Objects:  make(map[string][]byte),
		Playlist: make(map[string][]byte),
	}
}

func key(variantID, name string) string { return variantID + "/" + name }

func (m *MemStorage) StoreMasterPlaylist(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Master = append([]byte(nil), b...)
	return nil
}

func (m *MemStorage) StorePlaylist(variantID string, b []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Playlist[variantID] = append([]byte(nil), b...)
	return variantID + "/playlist.m3u8", nil
}

func (m *MemStorage) StoreInitHeader(variantID, resourceName string, b []byte) (string, error) {
	return m.store(variantID, resourceName, b)
}

func (m *MemStorage) StoreSegment(variantID, resourceName string, b []byte) (string, error) {
	return m.store(variantID, resourceName, b)
}

func (m *MemStorage) StorePart(variantID, resourceName string, b []byte) (string, error) {
	return m.store(variantID, resourceName, b)
}

func (m *MemStorage) store(variantID, resourceName string, b []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[key(variantID, resourceName)] = append([]byte(nil), b...)
	return key(variantID, resourceName), nil
}

func (m *MemStorage) DeleteSegment(variantID string, meta Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Objects, key(variantID, meta.ResourceName))
	m.Deleted = append(m.Deleted, meta)
	return nil
}
