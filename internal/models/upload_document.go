package models

import "encoding/json"

// UploadDocument is the parsed body of a legacy whole-library upload. The
// updateKey CAS token travels as a form parameter, not in the document.
type UploadDocument struct {
	Objects []UploadObject `json:"objects"`
	Deleted []DeletedRef   `json:"deleted,omitempty"`
}

// UploadObject is one object write within a legacy upload
type UploadObject struct {
	ObjectType string          `json:"objectType"`
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"data"`
}

// DeletedRef identifies one object tombstoned by a legacy upload
type DeletedRef struct {
	ObjectType string `json:"objectType"`
	Key        string `json:"key"`
}

// Size returns the number of object writes and deletes in the document
func (d *UploadDocument) Size() int {
	return len(d.Objects) + len(d.Deleted)
}
