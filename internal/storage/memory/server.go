package memory

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/fmedlin/touchdb/internal/storage"
	"github.com/fmedlin/touchdb/pkg/model"
)

var dbNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_$()+/-]*$`)

// Server is an in-memory database registry.
type Server struct {
	mu       sync.Mutex
	dbs      map[string]*Database
	notifier *storage.Notifier
	logger   *slog.Logger
}

var _ storage.Server = (*Server)(nil)

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		dbs:      make(map[string]*Database),
		notifier: storage.NewNotifier(),
		logger:   logger,
	}
}

// IsValidDatabaseName reports whether name is a legal database name.
func IsValidDatabaseName(name string) bool {
	return dbNameRegex.MatchString(name)
}

func (s *Server) DatabaseNamed(name string) (storage.Database, error) {
	if !IsValidDatabaseName(name) {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidName, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db := s.dbs[name]
	if db == nil {
		db = newDatabase(name, s)
		s.dbs[name] = db
	}
	return db, nil
}

func (s *Server) ExistingDatabaseNamed(name string) (storage.Database, error) {
	if !IsValidDatabaseName(name) {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidName, name)
	}
	s.mu.Lock()
	db := s.dbs[name]
	s.mu.Unlock()
	if db == nil || !db.Exists() {
		return nil, model.ErrNotFound
	}
	return db, nil
}

// registered reports how many handles the registry holds.
func (s *Server) registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dbs)
}

func (s *Server) AllDatabaseNames() []string {
	var names []string
	for _, db := range s.AllOpenDatabases() {
		names = append(names, db.Name())
	}
	sort.Strings(names)
	return names
}

func (s *Server) AllOpenDatabases() []storage.Database {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Database
	for _, db := range s.dbs {
		if db.Exists() {
			out = append(out, db)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (s *Server) DeleteDatabaseNamed(name string) error {
	s.mu.Lock()
	db := s.dbs[name]
	s.mu.Unlock()
	if db == nil || !db.Exists() {
		return model.ErrNotFound
	}
	db.drop()
	s.logger.Info("Deleted database", "db", name)
	return nil
}

func (s *Server) Subscribe() *storage.Subscription {
	return s.notifier.Subscribe()
}

func (s *Server) Close() error {
	s.mu.Lock()
	dbs := make([]*Database, 0, len(s.dbs))
	for _, db := range s.dbs {
		dbs = append(dbs, db)
	}
	s.mu.Unlock()
	for _, db := range dbs {
		db.mu.RLock()
		n := db.notifier
		db.mu.RUnlock()
		n.Close()
	}
	s.notifier.Close()
	return nil
}
