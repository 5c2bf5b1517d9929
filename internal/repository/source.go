/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package repository

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Source yields raw policy documents. One document declares one environment.
type Source interface {
	// Name identifies the source in logs and errors.
	Name() string
	// Load returns the source's documents. Implementations must honor ctx
	// cancellation.
	Load(ctx context.Context) ([]Document, error)
}

// Document is one raw policy document and where it came from.
type Document struct {
	// Origin names the document for diagnostics, e.g. a file path.
	Origin string
	// DefaultName substitutes for a missing environment name in the
	// document. File sources use the file stem.
	DefaultName string
	// Modified is the document's last modification time, when known.
	Modified time.Time
	Data     []byte
}

// FileSource reads policy documents from a YAML file, or from every .yaml
// and .yml file directly inside a directory.
type FileSource struct {
	path string
}

// NewFileSource builds a source over path. The path is not touched until
// Load.
func NewFileSource(path string) *FileSource { return &FileSource{path: path} }

func (s *FileSource) Name() string { return s.path }

func (s *FileSource) Load(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		doc, err := readDocument(s.path)
		if err != nil {
			return nil, err
		}
		return []Document{doc}, nil
	}

	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, err
	}
	var docs []Document
	for _, e := range entries {
		if e.IsDir() || !isPolicyFile(e.Name()) {
			continue
		}
		doc, err := readDocument(filepath.Join(s.path, e.Name()))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func readDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	doc := Document{
		Origin:      path,
		DefaultName: stem(path),
		Data:        data,
	}
	if info, err := os.Stat(path); err == nil {
		doc.Modified = info.ModTime().UTC()
	}
	return doc, nil
}

// stem is the file name without directory and extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isPolicyFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Static serves fixed documents, for tests and the simulation CLI.
type Static struct {
	name string

	mu   sync.RWMutex
	docs []Document
}

// NewStaticSource builds a source that serves docs as given.
func NewStaticSource(name string, docs ...Document) *Static {
	return &Static{name: name, docs: docs}
}

func (s *Static) Name() string { return s.name }

// SetDocuments replaces the served documents; the next Load sees them.
func (s *Static) SetDocuments(docs ...Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = docs
}

func (s *Static) Load(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out, nil
}
