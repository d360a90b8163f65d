// Package inventory is an in-memory store and inventory-item database served over dbsock.
package inventory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotUnique        = errors.New("not unique")
	ErrNotFound         = errors.New("not found")
)

// Record kinds with their own surrogate key sequence
const (
	KindStore = "Store"
	KindItem  = "InventoryItem"
)

type Store struct {
	ID   int64
	Name string
}

// Item is one inventory item. Defaults follow the web client's InventoryItem.
type Item struct {
	ID              int64
	Name            string
	Quantity        decimal.Decimal
	PreferredAmount decimal.Decimal
	LowThreshold    decimal.Decimal
	InventoryGroup  string
	IsSuspended     bool
	LastAdded       time.Time
	Shelf           string
	Store           string
}

// NewItem returns an item with default amounts
func NewItem(name string, now time.Time) Item {
	return Item{
		Name:            name,
		Quantity:        decimal.Zero,
		PreferredAmount: decimal.NewFromInt(1),
		LowThreshold:    decimal.NewFromInt(3),
		InventoryGroup:  "ingredient",
		LastAdded:       now.Truncate(time.Second),
	}
}

// IsLow reports whether the quantity is at or below the low threshold
func (it Item) IsLow() bool {
	return it.Quantity.LessThanOrEqual(it.LowThreshold)
}

// -----------------------------------------------------------------------------------------------

// Keys hands out surrogate keys per record kind, starting at 1
type Keys struct {
	mu   sync.Mutex
	next map[string]int64
}

func NewKeys() *Keys {
	return &Keys{next: make(map[string]int64)}
}

func (k *Keys) Next(kind string) int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	n, ok := k.next[kind]
	if !ok {
		n = 1
	}
	k.next[kind] = n + 1
	return n
}

// -----------------------------------------------------------------------------------------------

// DB holds stores and items
type DB struct {
	Keys *Keys

	mu     sync.RWMutex
	stores []Store
	items  []Item
	now    func() time.Time
}

func New() *DB {
	return &DB{Keys: NewKeys(), now: time.Now}
}

func (db *DB) CreateStore(name string) (Store, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Store{}, fmt.Errorf("%w: store name is required", ErrInvalidParameter)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, s := range db.stores {
		if strings.EqualFold(s.Name, name) {
			return Store{}, fmt.Errorf("%w: store %q already exists", ErrNotUnique, name)
		}
	}
	s := Store{ID: db.Keys.Next(KindStore), Name: name}
	db.stores = append(db.stores, s)
	return s, nil
}

// Stores returns all stores in creation order
func (db *DB) Stores() []Store {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]Store(nil), db.stores...)
}

// Store returns the named store and the items bought there
func (db *DB) Store(name string) (Store, []Item, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, s := range db.stores {
		if strings.EqualFold(s.Name, name) {
			var items []Item
			for _, it := range db.items {
				if strings.EqualFold(it.Store, s.Name) {
					items = append(items, it)
				}
			}
			return s, items, nil
		}
	}
	return Store{}, nil, fmt.Errorf("%w: store %q", ErrNotFound, name)
}

// CreateItem assigns it a key and stores it
func (db *DB) CreateItem(it Item) (Item, error) {
	if strings.TrimSpace(it.Name) == "" {
		return Item{}, fmt.Errorf("%w: item name is required", ErrInvalidParameter)
	}
	if it.Quantity.IsNegative() {
		return Item{}, fmt.Errorf("%w: quantity must not be negative", ErrInvalidParameter)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	it.ID = db.Keys.Next(KindItem)
	db.items = append(db.items, it)
	return it, nil
}

// Shelves returns the distinct shelf names, sorted
func (db *DB) Shelves() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	seen := make(map[string]bool)
	var names []string
	for _, it := range db.items {
		if it.Shelf != "" && !seen[it.Shelf] {
			seen[it.Shelf] = true
			names = append(names, it.Shelf)
		}
	}
	sort.Strings(names)
	return names
}

// ShelfItems returns the items on shelf in creation order
func (db *DB) ShelfItems(shelf string) []Item {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var items []Item
	for _, it := range db.items {
		if it.Shelf == shelf {
			items = append(items, it)
		}
	}
	return items
}
