package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/dagrun/dagrun/pkg/logger"
)

// SourceFile is one definition file fetched from a source.
type SourceFile struct {
	Path string
	Data []byte
}

// Source yields definition files for loading. Implementations cover the
// local directory walk here and whatever slow backends a host wraps with
// NewResilientSource.
type Source interface {
	Fetch(ctx context.Context) ([]SourceFile, error)
}

// DirectorySource discovers and reads definition files under a root
// directory.
type DirectorySource struct {
	root       string
	include    []string
	exclude    []string
	discoverer FileDiscoverer
}

type DirectoryOption func(*DirectorySource)

// WithInclude replaces the default include patterns.
func WithInclude(patterns ...string) DirectoryOption {
	return func(s *DirectorySource) {
		s.include = patterns
	}
}

// WithExclude adds exclude patterns on top of the defaults.
func WithExclude(patterns ...string) DirectoryOption {
	return func(s *DirectorySource) {
		s.exclude = patterns
	}
}

func NewDirectorySource(root string, opts ...DirectoryOption) *DirectorySource {
	s := &DirectorySource{
		root:       root,
		discoverer: NewFileDiscoverer(root),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch discovers matching files and reads them in sorted order.
func (s *DirectorySource) Fetch(ctx context.Context) ([]SourceFile, error) {
	paths, err := s.discoverer.Discover(s.include, s.exclude)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("discovered definition files",
		"root", s.root, "count", len(paths), "patterns", describePatterns(s.include))
	files := make([]SourceFile, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read definition file %s: %w", path, err)
		}
		files = append(files, SourceFile{Path: path, Data: data})
	}
	return files, nil
}
