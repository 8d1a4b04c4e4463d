package types

import "time"

// ItemType identifies which entity kind a TrashRecord references.
type ItemType int

// Trashable item types.
const (
	ItemTypeTree  ItemType = 1
	ItemTypeImage ItemType = 2
)

// Collection returns the collection name holding entities of this item type.
// Returns an empty string for unknown item types.
func (t ItemType) Collection() string {
	switch t {
	case ItemTypeTree:
		return CollectionTrees
	case ItemTypeImage:
		return CollectionImages
	default:
		return ""
	}
}

// String returns the item type name used in logs and CLI output.
func (t ItemType) String() string {
	switch t {
	case ItemTypeTree:
		return "tree"
	case ItemTypeImage:
		return "image"
	default:
		return "unknown"
	}
}

// TrashRecord is the bookkeeping entity for a soft-deleted item. At most one
// live record may reference a given (ItemID, ItemType) pair; the record's
// existence and the entity's temporarily-deleted status move in lockstep.
type TrashRecord struct {
	TrashID   string    `json:"trash_id"`
	UserID    int64     `json:"user_id"`
	ItemID    string    `json:"item_id"`
	ItemType  ItemType  `json:"item_type"`
	DeletedAt time.Time `json:"deleted_at"`
}
