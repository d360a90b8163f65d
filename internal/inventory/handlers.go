package inventory

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fridgeinv/dbsock"
)

// Register installs the inventory commands on s. Creations are broadcast to other peers.
func (db *DB) Register(s *dbsock.Server) {
	s.HandleCommand(dbsock.CommandCreateStore, db.handleCreateStore)
	s.HandleCommand(dbsock.CommandGetAllStore, db.handleGetAllStore)
	s.HandleCommand(dbsock.CommandGetStoreData, db.handleGetStoreData)
	s.HandleCommand(dbsock.CommandGetAllShelf, db.handleGetAllShelf)
	s.HandleCommand(dbsock.CommandGetAllShelfInvItem, db.handleGetShelfItems)
	s.HandleCommand(dbsock.CommandCreateInventoryItem, db.handleCreateItem)
	s.HandleCommand(dbsock.CommandNextSurrogateKey, db.handleNextKey)
	s.Broadcast(dbsock.CommandCreateStore, dbsock.CommandCreateInventoryItem)
}

func (db *DB) handleCreateStore(_ *dbsock.Peer, in *dbsock.Fields) (*dbsock.Fields, error) {
	st, err := db.CreateStore(in.Text("name"))
	if err != nil {
		return nil, err
	}
	return dbsock.NewFields().
		Set("id", dbsock.Integer(st.ID)).
		Set("name", dbsock.Text(st.Name)), nil
}

func (db *DB) handleGetAllStore(_ *dbsock.Peer, _ *dbsock.Fields) (*dbsock.Fields, error) {
	stores := db.Stores()
	out := dbsock.NewFields().Set("count", dbsock.Integer(int64(len(stores))))
	for i, st := range stores {
		out.Set(indexed("id", i), dbsock.Integer(st.ID))
		out.Set(indexed("name", i), dbsock.Text(st.Name))
	}
	return out, nil
}

func (db *DB) handleGetStoreData(_ *dbsock.Peer, in *dbsock.Fields) (*dbsock.Fields, error) {
	st, items, err := db.Store(in.Text("name"))
	if err != nil {
		return nil, err
	}
	out := dbsock.NewFields().Set("id", dbsock.Integer(st.ID))
	appendItems(out, items)
	return out, nil
}

func (db *DB) handleGetAllShelf(_ *dbsock.Peer, _ *dbsock.Fields) (*dbsock.Fields, error) {
	shelves := db.Shelves()
	out := dbsock.NewFields().Set("count", dbsock.Integer(int64(len(shelves))))
	for i, name := range shelves {
		out.Set(indexed("name", i), dbsock.Text(name))
	}
	return out, nil
}

func (db *DB) handleGetShelfItems(_ *dbsock.Peer, in *dbsock.Fields) (*dbsock.Fields, error) {
	out := dbsock.NewFields()
	appendItems(out, db.ShelfItems(in.Text("name")))
	return out, nil
}

func (db *DB) handleCreateItem(_ *dbsock.Peer, in *dbsock.Fields) (*dbsock.Fields, error) {
	it, err := ItemFromFields(in, db.now())
	if err != nil {
		return nil, err
	}
	it, err = db.CreateItem(it)
	if err != nil {
		return nil, err
	}
	return dbsock.NewFields().Set("id", dbsock.Integer(it.ID)), nil
}

func (db *DB) handleNextKey(_ *dbsock.Peer, in *dbsock.Fields) (*dbsock.Fields, error) {
	kind := in.Text("type")
	if kind == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalidParameter)
	}
	return dbsock.NewFields().Set("key", dbsock.Integer(db.Keys.Next(kind))), nil
}

// -----------------------------------------------------------------------------------------------

func indexed(name string, i int) string {
	return name + "." + strconv.Itoa(i)
}

func appendItems(out *dbsock.Fields, items []Item) {
	out.Set("count", dbsock.Integer(int64(len(items))))
	for i, it := range items {
		it.Fields().Range(func(k string, v dbsock.Value) bool {
			out.Set(indexed(k, i), v)
			return true
		})
	}
}

// Fields renders it the way clients send items
func (it Item) Fields() *dbsock.Fields {
	f := dbsock.NewFields()
	if it.ID != 0 {
		f.Set("id", dbsock.Integer(it.ID))
	}
	f.Set("name", dbsock.Text(it.Name)).
		Set("quantity", dbsock.Text(it.Quantity.String())).
		Set("preferredAmount", dbsock.Text(it.PreferredAmount.String())).
		Set("lowThreshold", dbsock.Text(it.LowThreshold.String())).
		Set("inventoryGroup", dbsock.Text(it.InventoryGroup)).
		Set("isSuspended", dbsock.Boolean(it.IsSuspended)).
		Set("lastAdded", dbsock.Timestamp(it.LastAdded))
	if it.Shelf != "" {
		f.Set("shelf", dbsock.Text(it.Shelf))
	}
	if it.Store != "" {
		f.Set("store", dbsock.Text(it.Store))
	}
	return f
}

// ItemFromFields parses an item sent by a client. Missing fields keep their defaults.
func ItemFromFields(in *dbsock.Fields, now time.Time) (Item, error) {
	it := NewItem(in.Text("name"), now)
	var err error
	if it.Quantity, err = decimalField(in, "quantity", it.Quantity); err != nil {
		return Item{}, err
	}
	if it.PreferredAmount, err = decimalField(in, "preferredAmount", it.PreferredAmount); err != nil {
		return Item{}, err
	}
	if it.LowThreshold, err = decimalField(in, "lowThreshold", it.LowThreshold); err != nil {
		return Item{}, err
	}
	if v, ok := in.Get("inventoryGroup"); ok && v.String() != "" {
		it.InventoryGroup = v.String()
	}
	if v, ok := in.Get("isSuspended"); ok {
		if it.IsSuspended, err = v.Bool(); err != nil {
			return Item{}, fmt.Errorf("%w: isSuspended %q", ErrInvalidParameter, v.String())
		}
	}
	if v, ok := in.Get("lastAdded"); ok {
		t, isTime := v.Time()
		if !isTime {
			return Item{}, fmt.Errorf("%w: lastAdded %q", ErrInvalidParameter, v.String())
		}
		it.LastAdded = t
	}
	it.Shelf = in.Text("shelf")
	it.Store = in.Text("store")
	return it, nil
}

func decimalField(in *dbsock.Fields, name string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := in.Get(name)
	if !ok || v.String() == "" {
		return def, nil
	}
	d, err := v.Decimal()
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q", ErrInvalidParameter, name, v.String())
	}
	return d, nil
}
