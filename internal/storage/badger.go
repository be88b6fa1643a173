package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pricewatch/internal/domain"
)

const (
	itemPrefix     = "item:id:"
	urlIndexPrefix = "item:url:"
	maxTxnRetries  = 10
)

// BadgerRepository implements Repository on an embedded BadgerDB.
// Items are stored as JSON under item:id:{id}; item:url:{url} maps a URL to its id.
type BadgerRepository struct {
	db  *badger.DB
	log logrus.FieldLogger
	now func() time.Time
}

// NewBadgerRepository opens the database at dbPath.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("%w: open badger db at %s: %w", domain.ErrPersistence, dbPath, err)
	}
	logger.WithField("path", dbPath).Info("BadgerDB opened")

	return &BadgerRepository{
		db:  db,
		log: logger.WithField("component", "repository"),
		now: time.Now,
	}, nil
}

// Close closes the database.
func (r *BadgerRepository) Close() error {
	r.log.Info("Closing BadgerDB...")
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	r.log.Info("BadgerDB closed.")
	return nil
}

func itemKey(id string) []byte {
	return []byte(itemPrefix + id)
}

func urlKey(url string) []byte {
	return []byte(urlIndexPrefix + url)
}

// FindAll implements Repository.
func (r *BadgerRepository) FindAll(ctx context.Context) ([]domain.TrackedItem, error) {
	var items []domain.TrackedItem

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(itemPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var item domain.TrackedItem
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		r.log.WithError(err).Error("Failed to list items")
		return nil, fmt.Errorf("%w: list items: %w", domain.ErrPersistence, err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// FindByID implements Repository.
func (r *BadgerRepository) FindByID(_ context.Context, id string) (*domain.TrackedItem, error) {
	var item *domain.TrackedItem
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		item, err = getItem(txn, id)
		return err
	})
	if err != nil {
		return nil, r.readError(err, "id", id)
	}
	return item, nil
}

// FindByURL implements Repository.
func (r *BadgerRepository) FindByURL(_ context.Context, url string) (*domain.TrackedItem, error) {
	var item *domain.TrackedItem
	err := r.db.View(func(txn *badger.Txn) error {
		id, err := lookupID(txn, url)
		if err != nil {
			return err
		}
		item, err = getItem(txn, id)
		return err
	})
	if err != nil {
		return nil, r.readError(err, "url", url)
	}
	return item, nil
}

// FindSimilar implements Repository.
func (r *BadgerRepository) FindSimilar(ctx context.Context, excludeID string, limit int) ([]domain.TrackedItem, error) {
	items, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return similar(items, excludeID, limit), nil
}

// Upsert implements Repository.
func (r *BadgerRepository) Upsert(_ context.Context, url string, item domain.TrackedItem) (*domain.TrackedItem, error) {
	log := r.log.WithField("url", url)

	var stored domain.TrackedItem
	err := r.update(func(txn *badger.Txn) error {
		var existing *domain.TrackedItem
		id, err := lookupID(txn, url)
		switch {
		case err == nil:
			existing, err = getItem(txn, id)
			if err != nil {
				return err
			}
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		stored = prepareUpsert(url, item, existing, uuid.NewString, r.now)
		if err := putItem(txn, stored); err != nil {
			return err
		}
		return txn.Set(urlKey(url), []byte(stored.ID))
	})
	if err != nil {
		log.WithError(err).Error("Failed to upsert item")
		return nil, fmt.Errorf("%w: upsert %s: %w", domain.ErrPersistence, url, err)
	}

	log.WithField("item_id", stored.ID).Debug("Item upserted")
	return &stored, nil
}

// Save implements Repository.
func (r *BadgerRepository) Save(_ context.Context, item domain.TrackedItem) error {
	log := r.log.WithField("item_id", item.ID)

	err := r.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(itemKey(item.ID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if err := putItem(txn, item); err != nil {
			return err
		}
		return txn.Set(urlKey(item.URL), []byte(item.ID))
	})
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("item %s: %w", item.ID, domain.ErrNotFound)
	}
	if err != nil {
		log.WithError(err).Error("Failed to save item")
		return fmt.Errorf("%w: save %s: %w", domain.ErrPersistence, item.ID, err)
	}
	return nil
}

// AddSubscriber implements Repository.
func (r *BadgerRepository) AddSubscriber(_ context.Context, id, email string) (*domain.TrackedItem, bool, error) {
	log := r.log.WithFields(logrus.Fields{"item_id": id, "email": email})

	var (
		item  *domain.TrackedItem
		added bool
	)
	err := r.update(func(txn *badger.Txn) error {
		var err error
		item, err = getItem(txn, id)
		if err != nil {
			return err
		}
		added = item.AddSubscriber(email)
		if !added {
			return nil
		}
		return putItem(txn, *item)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		log.WithError(err).Error("Failed to add subscriber")
		return nil, false, fmt.Errorf("%w: add subscriber to %s: %w", domain.ErrPersistence, id, err)
	}
	return item, added, nil
}

// RunGC reclaims value log space until ctx is cancelled.
func (r *BadgerRepository) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := r.db.RunValueLogGC(0.7)
			switch {
			case err == nil:
				r.log.Debug("BadgerDB GC completed")
			case errors.Is(err, badger.ErrNoRewrite):
			case errors.Is(err, badger.ErrDBClosed):
				return
			default:
				r.log.WithError(err).Warn("BadgerDB GC failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func (r *BadgerRepository) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		r.log.WithField("attempt", attempt+1).Debug("Transaction conflict, retrying")
	}
	return err
}

func (r *BadgerRepository) readError(err error, field, value string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("item %s %s: %w", field, value, domain.ErrNotFound)
	}
	r.log.WithError(err).WithField(field, value).Error("Failed to read item")
	return fmt.Errorf("%w: read %s: %w", domain.ErrPersistence, value, err)
}

func lookupID(txn *badger.Txn, url string) (string, error) {
	entry, err := txn.Get(urlKey(url))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	id, err := entry.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(id), nil
}

func getItem(txn *badger.Txn, id string) (*domain.TrackedItem, error) {
	entry, err := txn.Get(itemKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var item domain.TrackedItem
	if err := entry.Value(func(val []byte) error {
		return json.Unmarshal(val, &item)
	}); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", id, err)
	}
	return &item, nil
}

func putItem(txn *badger.Txn, item domain.TrackedItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item %s: %w", item.ID, err)
	}
	return txn.SetEntry(badger.NewEntry(itemKey(item.ID), data))
}

func similar(items []domain.TrackedItem, excludeID string, limit int) []domain.TrackedItem {
	if limit <= 0 {
		return nil
	}
	out := make([]domain.TrackedItem, 0, limit)
	for _, item := range items {
		if item.ID == excludeID {
			continue
		}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
