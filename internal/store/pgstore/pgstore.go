// Package pgstore provides a PostgreSQL-backed store.Store. Each child of a
// top-level collection (a session document) is one row holding the document
// as JSON plus a version counter used for optimistic transactions. Changes are
// announced with NOTIFY so every process serving the same database refreshes
// its subscribers.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/gamesync/internal/store"
)

const notifyChannel = "gamesync_documents"

type document struct {
	Collection string    `gorm:"primaryKey;size:128"`
	Key        string    `gorm:"primaryKey;size:128"`
	Value      string    `gorm:"type:jsonb;not null"`
	Version    int64     `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (document) TableName() string { return "session_documents" }

// docRef addresses a document row and a path inside it.
type docRef struct {
	collection string
	key        string
	sub        []string
}

func (r docRef) id() string { return r.collection + "/" + r.key }

func resolve(path string) (docRef, error) {
	segs, err := store.Split(path)
	if err != nil {
		return docRef{}, err
	}
	if len(segs) < 2 {
		return docRef{}, fmt.Errorf("%w: %q does not address a document", store.ErrInvalidPath, path)
	}
	return docRef{collection: segs[0], key: segs[1], sub: segs[2:]}, nil
}

type Store struct {
	db          *gorm.DB
	dsn         string
	maxAttempts int
	log         *zap.Logger
	listen      bool

	mu       sync.Mutex
	feeds    map[string]map[*store.Feed]struct{} // document id -> feeds
	versions map[string]int64                    // document id -> last delivered version

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithoutListener disables the NOTIFY listener; only changes made through
// this Store instance reach its subscribers.
func WithoutListener() Option {
	return func(s *Store) { s.listen = false }
}

// Open connects to dsn, migrates the document table and starts the change
// listener.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&document{}); err != nil {
		return nil, multierr.Append(fmt.Errorf("migrate documents: %w", err), closeDB(db))
	}

	lctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:          db,
		dsn:         dsn,
		maxAttempts: store.DefaultMaxAttempts,
		log:         zap.NewNop(),
		listen:      true,
		feeds:       make(map[string]map[*store.Feed]struct{}),
		versions:    make(map[string]int64),
		ctx:         lctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("pgstore")

	if s.listen {
		s.wg.Add(1)
		go s.listenLoop()
	}
	return s, nil
}

var _ store.Store = (*Store)(nil)

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	var feeds []*store.Feed
	for _, set := range s.feeds {
		for f := range set {
			feeds = append(feeds, f)
		}
	}
	s.feeds = make(map[string]map[*store.Feed]struct{})
	s.versions = make(map[string]int64)
	s.mu.Unlock()
	for _, f := range feeds {
		f.Close()
	}
	return closeDB(s.db)
}

func (s *Store) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return store.ErrClosed
	}
	return nil
}

// load returns the decoded document and its version; version 0 means the row
// does not exist.
func (s *Store) load(ctx context.Context, db *gorm.DB, ref docRef) (any, int64, error) {
	var row document
	err := db.WithContext(ctx).
		Where("collection = ? AND key = ?", ref.collection, ref.key).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load document %s: %w", ref.id(), err)
	}
	root, err := store.Decode(json.RawMessage(row.Value))
	if err != nil {
		return nil, 0, err
	}
	return root, row.Version, nil
}

func (s *Store) Read(ctx context.Context, path string) (json.RawMessage, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	ref, err := resolve(path)
	if err != nil {
		return nil, err
	}
	root, _, err := s.load(ctx, s.db, ref)
	if err != nil {
		return nil, err
	}
	return store.Encode(store.Lookup(root, ref.sub))
}

// save writes root as the next version of the document. It reports false when
// the row changed since version was read.
func (s *Store) save(ctx context.Context, db *gorm.DB, ref docRef, root any, version int64) (bool, error) {
	raw, err := store.Encode(root)
	if err != nil {
		return false, err
	}
	if raw == nil {
		raw = json.RawMessage("{}")
	}
	now := time.Now().UTC()

	if version == 0 {
		res := db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&document{
				Collection: ref.collection,
				Key:        ref.key,
				Value:      string(raw),
				Version:    1,
				UpdatedAt:  now,
			})
		if res.Error != nil {
			return false, fmt.Errorf("create document %s: %w", ref.id(), res.Error)
		}
		return res.RowsAffected == 1, nil
	}

	res := db.WithContext(ctx).
		Model(&document{}).
		Where("collection = ? AND key = ? AND version = ?", ref.collection, ref.key, version).
		Updates(map[string]any{
			"value":      string(raw),
			"version":    version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("update document %s: %w", ref.id(), res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) announce(ctx context.Context, db *gorm.DB, ref docRef) error {
	if err := db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", notifyChannel, ref.id()).Error; err != nil {
		return fmt.Errorf("notify %s: %w", ref.id(), err)
	}
	return nil
}

func (s *Store) Transact(ctx context.Context, path string, fn store.UpdateFunc) (bool, json.RawMessage, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, nil, err
	}
	ref, err := resolve(path)
	if err != nil {
		return false, nil, err
	}

	var current json.RawMessage
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		root, version, err := s.load(ctx, s.db, ref)
		if err != nil {
			return false, current, err
		}
		current, err = store.Encode(store.Lookup(root, ref.sub))
		if err != nil {
			return false, nil, err
		}

		proposed, abort, err := fn(current)
		if err != nil {
			return false, current, err
		}
		if abort {
			return false, current, nil
		}
		value, err := store.Normalize(proposed)
		if err != nil {
			return false, current, err
		}

		root = store.Assign(root, ref.sub, value)
		ok, err := s.save(ctx, s.db, ref, root, version)
		if err != nil {
			return false, current, err
		}
		if !ok {
			s.log.Debug("transaction conflict, retrying", zap.String("path", path), zap.Int("attempt", attempt+1))
			continue
		}

		s.changed(ctx, ref, root, version+1)
		final, err := store.Encode(store.Lookup(root, ref.sub))
		return true, final, err
	}
	return false, current, store.ErrTooManyRetries
}

func (s *Store) Write(ctx context.Context, path string, fields map[string]any) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	ref, err := resolve(path)
	if err != nil {
		return err
	}
	return s.merge(ctx, ref, fields)
}

// merge applies fields under a row lock so concurrent merges of disjoint
// fields never lose each other.
func (s *Store) merge(ctx context.Context, ref docRef, fields map[string]any) error {
	var (
		root    any
		version int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND key = ?", ref.collection, ref.key).
			Take(&row).Error
		version = row.Version
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			version = 0
		case err != nil:
			return fmt.Errorf("lock document %s: %w", ref.id(), err)
		default:
			if root, err = store.Decode(json.RawMessage(row.Value)); err != nil {
				return err
			}
		}

		if root, err = store.Merge(root, ref.sub, fields); err != nil {
			return err
		}
		ok, err := s.save(ctx, tx, ref, root, version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("document %s created concurrently", ref.id())
		}
		return s.announce(ctx, tx, ref)
	})
	if err != nil {
		return err
	}
	s.deliver(ref.id(), root, version+1)
	return nil
}

func (s *Store) Push(ctx context.Context, collection string, value any) (string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return "", err
	}
	key, err := store.NewPushKey()
	if err != nil {
		return "", err
	}
	segs, err := store.Split(collection)
	if err != nil {
		return "", err
	}

	if len(segs) == 1 {
		root, err := store.Normalize(value)
		if err != nil {
			return "", err
		}
		ref := docRef{collection: segs[0], key: key}
		ok, err := s.save(ctx, s.db, ref, root, 0)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("push key %s already exists", ref.id())
		}
		s.changed(ctx, ref, root, 1)
		return key, nil
	}

	ref, err := resolve(collection)
	if err != nil {
		return "", err
	}
	if err := s.merge(ctx, ref, map[string]any{key: value}); err != nil {
		return "", err
	}
	return key, nil
}

// changed fans a committed document out locally and to other processes.
func (s *Store) changed(ctx context.Context, ref docRef, root any, version int64) {
	s.deliver(ref.id(), root, version)
	if err := s.announce(ctx, s.db, ref); err != nil {
		s.log.Warn("announce change", zap.String("document", ref.id()), zap.Error(err))
	}
}

// deliver offers root to the document's feeds unless a newer version has
// already been delivered. Commits and refreshes race, so an older load can
// finish last.
func (s *Store) deliver(id string, root any, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feeds := s.feeds[id]
	if len(feeds) == 0 {
		return
	}
	if version < s.versions[id] {
		s.log.Debug("dropping stale document", zap.String("document", id),
			zap.Int64("version", version), zap.Int64("delivered", s.versions[id]))
		return
	}
	s.versions[id] = version
	for f := range feeds {
		v, err := store.Encode(store.Lookup(root, f.Segments()[2:]))
		if err != nil {
			s.log.Warn("encode subscription value", zap.String("path", f.Path()), zap.Error(err))
			continue
		}
		f.Offer(v)
	}
}

// refresh reloads a document after a change announced elsewhere.
func (s *Store) refresh(ctx context.Context, id string) {
	collection, key, ok := strings.Cut(id, "/")
	if !ok {
		return
	}
	root, version, err := s.load(ctx, s.db, docRef{collection: collection, key: key})
	if err != nil {
		s.log.Warn("refresh document", zap.String("document", id), zap.Error(err))
		return
	}
	s.deliver(id, root, version)
}

// Subscribe registers the feed immediately and loads the initial value in the
// background so the caller never waits on the database.
func (s *Store) Subscribe(ctx context.Context, path string) (store.Subscription, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	ref, err := resolve(path)
	if err != nil {
		return nil, err
	}
	feed := s.watch(ctx, ref)
	go s.refresh(ctx, ref.id())
	return feed, nil
}

// watch registers a feed for ref. The last delivered version is forgotten
// once a document has no feeds left.
func (s *Store) watch(ctx context.Context, ref docRef) *store.Feed {
	id := ref.id()
	segs := append([]string{ref.collection, ref.key}, ref.sub...)
	feed := store.NewFeed(ctx, store.Join(segs...), segs, func(f *store.Feed) {
		s.mu.Lock()
		delete(s.feeds[id], f)
		if len(s.feeds[id]) == 0 {
			delete(s.feeds, id)
			delete(s.versions, id)
		}
		s.mu.Unlock()
	})

	s.mu.Lock()
	if s.feeds[id] == nil {
		s.feeds[id] = make(map[*store.Feed]struct{})
	}
	s.feeds[id][feed] = struct{}{}
	s.mu.Unlock()
	return feed
}
