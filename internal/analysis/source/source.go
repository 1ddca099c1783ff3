// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package source turns files on disk into parsed syntax trees for the
// static race analysis.
//
// Parsing uses tree-sitter with one grammar per supported language. Parser
// instances are pooled per grammar with sync.Pool so concurrent scans never
// contend on a shared parser. Per-file failures (unreadable file, parser
// error) are soft: the file is skipped and counted, and the scan continues.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"
	"golang.org/x/mod/modfile"
)

// Language identifies a supported source language.
type Language string

const (
	LangPython Language = "python"
	LangGo     Language = "go"
)

// ErrUnsupportedLanguage is returned by DetectLanguage for file extensions
// the scanner has no grammar for.
var ErrUnsupportedLanguage = errors.New("unsupported source language")

// ErrInvalidSource is returned for files that are not valid UTF-8.
var ErrInvalidSource = errors.New("source is not valid UTF-8")

// DetectLanguage maps a file path to a Language by extension.
func DetectLanguage(path string) (Language, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return LangPython, nil
	case ".go":
		return LangGo, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, path)
	}
}

// ParserPool hands out tree-sitter parsers per grammar.
//
// Each goroutine gets an independent parser from the pool, so a parallel
// scan never serializes on one parser instance.
type ParserPool struct {
	pyPool sync.Pool
	goPool sync.Pool
}

// NewParserPool creates a pool covering all supported grammars.
func NewParserPool() *ParserPool {
	return &ParserPool{
		pyPool: sync.Pool{
			New: func() interface{} {
				p := sitter.NewParser()
				p.SetLanguage(python.GetLanguage())
				return p
			},
		},
		goPool: sync.Pool{
			New: func() interface{} {
				p := sitter.NewParser()
				p.SetLanguage(golang.GetLanguage())
				return p
			},
		},
	}
}

// Get returns a parser configured for the given language.
func (pp *ParserPool) Get(lang Language) *sitter.Parser {
	if lang == LangGo {
		return pp.goPool.Get().(*sitter.Parser)
	}
	return pp.pyPool.Get().(*sitter.Parser)
}

// Put returns a parser to the pool for reuse.
func (pp *ParserPool) Put(lang Language, p *sitter.Parser) {
	p.Reset()
	if lang == LangGo {
		pp.goPool.Put(p)
		return
	}
	pp.pyPool.Put(p)
}

// File is one successfully parsed source file. The tree stays open until
// Close is called; callers own the lifetime.
type File struct {
	Path     string
	Language Language
	Source   []byte
	Tree     *sitter.Tree

	// ModulePath is the enclosing Go module path, resolved from the
	// nearest go.mod. Empty for Python files and for Go files outside a
	// module. Used to qualify module-global names.
	ModulePath string
}

// Root returns the root node of the parsed tree.
func (f *File) Root() *sitter.Node { return f.Tree.RootNode() }

// Close releases the parse tree.
func (f *File) Close() {
	if f.Tree != nil {
		f.Tree.Close()
		f.Tree = nil
	}
}

// ScanStats counts soft failures during a scan. Per the error model, a
// file that cannot be read or parsed is skipped and counted, never fatal.
type ScanStats struct {
	Parsed  int
	Skipped int

	// SkippedPaths lists the skipped files with a reason, for logging.
	SkippedPaths map[string]string
}

// Scanner parses a set of files into trees.
//
// A Scanner is safe for concurrent use; each Parse call draws its own
// parser from the pool.
type Scanner struct {
	pool *ParserPool

	mu sync.Mutex
	// modCache caches go.mod module paths per directory so a scan of a
	// large Go tree does not re-read go.mod per file.
	modCache map[string]string
}

// NewScanner creates a Scanner with a fresh parser pool.
func NewScanner() *Scanner {
	return &Scanner{
		pool:     NewParserPool(),
		modCache: make(map[string]string),
	}
}

// Parse reads and parses a single file.
func (s *Scanner) Parse(ctx context.Context, path string) (*File, error) {
	lang, err := DetectLanguage(path)
	if err != nil {
		return nil, err
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return s.ParseBytes(ctx, path, lang, src)
}

// ParseBytes parses in-memory source. Used by Parse and by tests that
// build fixtures without touching disk.
func (s *Scanner) ParseBytes(ctx context.Context, path string, lang Language, src []byte) (*File, error) {
	if !utf8.Valid(src) {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidSource)
	}

	parser := s.pool.Get(lang)
	tree, err := parser.ParseCtx(ctx, nil, src)
	s.pool.Put(lang, parser)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if tree.RootNode() == nil {
		tree.Close()
		return nil, fmt.Errorf("parse %s: empty tree", path)
	}

	f := &File{
		Path:     path,
		Language: lang,
		Source:   src,
		Tree:     tree,
	}
	if lang == LangGo {
		f.ModulePath = s.modulePathFor(filepath.Dir(path))
	}
	return f, nil
}

// ScanAll parses every path, skipping failures. The returned stats record
// how many files were skipped and why.
func (s *Scanner) ScanAll(ctx context.Context, paths []string) ([]*File, ScanStats) {
	stats := ScanStats{SkippedPaths: make(map[string]string)}
	files := make([]*File, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			stats.Skipped += len(paths) - len(files) - stats.Skipped
			break
		}
		f, err := s.Parse(ctx, p)
		if err != nil {
			stats.Skipped++
			stats.SkippedPaths[p] = err.Error()
			continue
		}
		stats.Parsed++
		files = append(files, f)
	}
	return files, stats
}

// modulePathFor walks up from dir looking for a go.mod and returns its
// module path. Results are cached per starting directory. Failure to find
// or parse a go.mod is not an error; the file is simply unqualified.
func (s *Scanner) modulePathFor(dir string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mp, ok := s.modCache[dir]; ok {
		return mp
	}

	mp := ""
	for d := dir; ; {
		data, err := os.ReadFile(filepath.Join(d, "go.mod"))
		if err == nil {
			mp = modfile.ModulePath(data)
			break
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	s.modCache[dir] = mp
	return mp
}
