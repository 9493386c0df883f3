package view

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fmedlin/touchdb/internal/storage"
	"github.com/fmedlin/touchdb/pkg/model"
)

// Service is what request handlers need from the view layer.
type Service interface {
	DefaultLanguage() string
	ExistingView(db storage.Database, name string) *View
	View(db storage.Database, name string) *View
	DropViews(dbName string)
	CompileMap(source, language string) (MapFunc, error)
	CompileReduce(source, language string) (ReduceFunc, error)
	FilterNamed(ctx context.Context, db storage.Database, name string, params map[string]string) (model.FilterFunc, error)
}

var _ Service = (*Manager)(nil)

// Manager keeps the views of every database and the compilers per language.
type Manager struct {
	mu              sync.Mutex
	views           map[string]map[string]*View
	compilers       map[string]Compiler
	defaultLanguage string
	logger          *slog.Logger
}

// NewManager registers the CEL compiler. defaultLanguage applies to design
// documents that do not name one.
func NewManager(defaultLanguage string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultLanguage == "" {
		defaultLanguage = LanguageCEL
	}
	celCompiler, err := NewCELCompiler()
	if err != nil {
		return nil, fmt.Errorf("init CEL compiler: %w", err)
	}
	return &Manager{
		views:           make(map[string]map[string]*View),
		compilers:       map[string]Compiler{LanguageCEL: celCompiler},
		defaultLanguage: defaultLanguage,
		logger:          logger,
	}, nil
}

// RegisterCompiler adds or replaces the compiler for a language.
func (m *Manager) RegisterCompiler(language string, c Compiler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compilers[language] = c
}

func (m *Manager) DefaultLanguage() string { return m.defaultLanguage }

func (m *Manager) compiler(language string) (Compiler, error) {
	if language == "" {
		language = m.defaultLanguage
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.compilers[language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownLanguage, language)
	}
	return c, nil
}

// ExistingView returns nil if the view was never created.
func (m *Manager) ExistingView(db storage.Database, name string) *View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.views[db.Name()][name]
}

// View returns the named view, creating an uncompiled one if needed.
func (m *Manager) View(db storage.Database, name string) *View {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName := m.views[db.Name()]
	if byName == nil {
		byName = make(map[string]*View)
		m.views[db.Name()] = byName
	}
	v := byName[name]
	if v == nil || v.db != db {
		v = newView(name, db, m.logger.With("view", name))
		byName[name] = v
	}
	return v
}

// DropViews forgets every view of a database.
func (m *Manager) DropViews(dbName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, dbName)
}

func (m *Manager) CompileMap(source, language string) (MapFunc, error) {
	c, err := m.compiler(language)
	if err != nil {
		return nil, err
	}
	return c.CompileMap(source)
}

// CompileReduce handles the builtin reducers for every language.
func (m *Manager) CompileReduce(source, language string) (ReduceFunc, error) {
	if fn, ok := builtinReduce(source); ok {
		return fn, nil
	}
	c, err := m.compiler(language)
	if err != nil {
		return nil, err
	}
	return c.CompileReduce(source)
}

// FilterNamed compiles the filter "<design doc>/<name>" from the design
// document's filters object. params become req.query.
func (m *Manager) FilterNamed(ctx context.Context, db storage.Database, name string, params map[string]string) (model.FilterFunc, error) {
	ddocName, filterName, ok := strings.Cut(name, "/")
	if !ok || ddocName == "" || filterName == "" {
		return nil, fmt.Errorf("%w: filter %q", model.ErrNotFound, name)
	}
	ddoc, err := db.GetDocument(ctx, "_design/"+ddocName, "", 0)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", name, err)
	}
	filters, _ := ddoc.Body["filters"].(map[string]interface{})
	source, _ := filters[filterName].(string)
	if source == "" {
		return nil, fmt.Errorf("%w: filter %q", model.ErrNotFound, name)
	}
	language, _ := ddoc.Body["language"].(string)
	c, err := m.compiler(language)
	if err != nil {
		return nil, err
	}
	fn, err := c.CompileFilter(source)
	if err != nil {
		return nil, err
	}

	query := make(map[string]interface{}, len(params))
	for k, v := range params {
		query[k] = v
	}
	req := map[string]interface{}{"query": query}
	logger := m.logger
	return func(rev *model.Revision) bool {
		pass, err := fn(rev.Body, req)
		if err != nil {
			logger.Debug("Filter failed", "filter", name, "doc", rev.DocID, "error", err)
			return false
		}
		return pass
	}, nil
}
