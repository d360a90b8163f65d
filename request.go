package dbsock

// Commands understood by the inventory server
const (
	CommandGetAllStore         = "get_all_store"
	CommandGetStoreData        = "get_store_data"
	CommandGetAllShelf         = "get_all_shelf"
	CommandGetAllShelfInvItem  = "get_all_shelf_inv_item"
	CommandCreateStore         = "create_store"
	CommandCreateInventoryItem = "create_inv_item"
	CommandNextSurrogateKey    = "next_surrogate_key"

	// Pushed to other clients when something is deleted
	CommandDeleteStore         = "delete_store"
	CommandDeleteInventoryItem = "delete_inv_item"
)

func nameFields(name string) *Fields {
	return NewFields().Set("name", Text(name))
}

func (c *Conn) RequestStoreNames(onSuccess, onFailure ResponseFunc) (uint64, error) {
	return c.SendRequest(CommandGetAllStore, nil, onSuccess, onFailure)
}

func (c *Conn) RequestStoreData(name string, onSuccess, onFailure ResponseFunc) (uint64, error) {
	return c.SendRequest(CommandGetStoreData, nameFields(name), onSuccess, onFailure)
}

func (c *Conn) RequestShelfNames(onSuccess, onFailure ResponseFunc) (uint64, error) {
	return c.SendRequest(CommandGetAllShelf, nil, onSuccess, onFailure)
}

func (c *Conn) RequestShelfData(name string, onSuccess, onFailure ResponseFunc) (uint64, error) {
	return c.SendRequest(CommandGetAllShelfInvItem, nameFields(name), onSuccess, onFailure)
}

func (c *Conn) RequestCreateStore(name string, onSuccess, onFailure ResponseFunc) (uint64, error) {
	return c.SendRequest(CommandCreateStore, nameFields(name), onSuccess, onFailure)
}

// RequestCreateInventoryItem sends item's fields as they are
func (c *Conn) RequestCreateInventoryItem(item *Fields, onSuccess, onFailure ResponseFunc) (uint64, error) {
	return c.SendRequest(CommandCreateInventoryItem, item, onSuccess, onFailure)
}

// RequestNextSurrogateKey asks for the next key of a record kind, e.g. "Store"
func (c *Conn) RequestNextSurrogateKey(kind string, onSuccess, onFailure ResponseFunc) (uint64, error) {
	return c.SendRequest(CommandNextSurrogateKey, NewFields().Set("type", Text(kind)), onSuccess, onFailure)
}
