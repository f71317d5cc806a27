package models

import (
	"encoding/json"
	"regexp"
	"time"
)

// Object type constants. All four object types share one conditional-write
// contract and are versioned against their library's counter.
const (
	ObjectTypeItem       = "item"
	ObjectTypeCollection = "collection"
	ObjectTypeSearch     = "search"
	ObjectTypeSetting    = "setting"
)

var objectKeyRegex = regexp.MustCompile(`^[23456789ABCDEFGHIJKLMNPQRSTUVWXYZ]{8}$`)

// ValidObjectTypes lists the object types exposed by the API
var ValidObjectTypes = []string{
	ObjectTypeItem,
	ObjectTypeCollection,
	ObjectTypeSearch,
	ObjectTypeSetting,
}

// IsValidObjectType reports whether t names a known object type
func IsValidObjectType(t string) bool {
	for _, v := range ValidObjectTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IsValidObjectKey reports whether k is a well-formed object key.
// Setting keys are free-form identifiers, so they bypass this check.
func IsValidObjectKey(k string) bool {
	return objectKeyRegex.MatchString(k)
}

// DataObject is an item, collection, saved search, or setting owned by a
// library. Version always equals the library version at the object's last
// successful write; version 0 means the object has never been written.
type DataObject struct {
	LibraryID    int64           `json:"libraryId"`
	ObjectType   string          `json:"objectType"`
	Key          string          `json:"key"`
	Version      int64           `json:"version"`
	Data         json.RawMessage `json:"data"`
	Deleted      bool            `json:"deleted"`
	DateAdded    time.Time       `json:"dateAdded"`
	DateModified time.Time       `json:"dateModified"`
}

// ObjectResponse is the canonical API representation of a data object
type ObjectResponse struct {
	Key     string          `json:"key"`
	Version int64           `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// ToResponse converts DataObject to its canonical API representation
func (o *DataObject) ToResponse() ObjectResponse {
	return ObjectResponse{
		Key:     o.Key,
		Version: o.Version,
		Data:    o.Data,
	}
}
