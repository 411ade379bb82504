// Package settings holds runtime values that outlive the process and can be changed while it runs.
package settings

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/asdine/storm/v3"
)

var logger = log.New(os.Stderr, "[settings] ", log.LstdFlags|log.Lmicroseconds)

const MotorSpeed = "motorSpeed"

var ErrUnknownKey = errors.New("unknown setting")

type Setting struct {
	Key     string    `storm:"id" json:"key"`
	Value   int       `json:"value"`
	Updated time.Time `json:"updated"`
}

// Listener is called with every accepted value for the key it was registered against.
type Listener func(key string, value int) error

// Store persists settings in storm and tells listeners about changes. Only keys with at least
// one listener are accepted.
type Store struct {
	db        *storm.DB
	lock      sync.Mutex
	listeners map[string][]Listener
}

func New(db *storm.DB) (*Store, error) {
	if err := db.Init(&Setting{}); err != nil {
		return nil, err
	}
	return &Store{db: db, listeners: make(map[string][]Listener)}, nil
}

// OnChange registers fn for key. Listeners run in registration order.
func (s *Store) OnChange(key string, fn Listener) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.listeners[key] = append(s.listeners[key], fn)
}

func (s *Store) Known(key string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.listeners[key]) > 0
}

// Keys lists every key that has a listener.
func (s *Store) Keys() (keys []string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for k := range s.listeners {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return
}

// Set stores value and notifies listeners before returning. The value is kept even when a
// listener fails; the listener errors are returned joined.
func (s *Store) Set(key string, value int) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	listeners := s.listeners[key]
	if len(listeners) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	if err := s.db.Save(&Setting{Key: key, Value: value, Updated: time.Now()}); err != nil {
		return err
	}
	logger.Printf("%s set to %d", key, value)
	return notify(listeners, key, value)
}

// Get returns the stored value. ok is false when nothing was stored yet.
func (s *Store) Get(key string) (value int, ok bool, err error) {
	var setting Setting
	err = s.db.One("Key", key, &setting)
	if errors.Is(err, storm.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return
	}
	return setting.Value, true, nil
}

func (s *Store) All() (settings []Setting, err error) {
	err = s.db.All(&settings)
	return
}

// Replay notifies listeners of every stored value, used once at boot.
func (s *Store) Replay() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	var stored []Setting
	if err := s.db.All(&stored); err != nil {
		return err
	}

	var errs []error
	for _, setting := range stored {
		listeners := s.listeners[setting.Key]
		if len(listeners) == 0 {
			continue
		}
		logger.Printf("replaying %s=%d", setting.Key, setting.Value)
		if err := notify(listeners, setting.Key, setting.Value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func notify(listeners []Listener, key string, value int) error {
	var errs []error
	for _, fn := range listeners {
		if err := fn(key, value); err != nil {
			errs = append(errs, fmt.Errorf("%s listener: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
