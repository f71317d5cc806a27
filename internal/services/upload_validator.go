package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/libsync/server/internal/models"
)

// uploadSchema is the grammar for legacy whole-library upload documents
const uploadSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["objects"],
	"properties": {
		"objects": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["objectType", "data"],
				"properties": {
					"objectType": {"enum": ["item", "collection", "search", "setting"]},
					"key": {"type": "string", "maxLength": 255},
					"data": {"type": "object"}
				}
			}
		},
		"deleted": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["objectType", "key"],
				"properties": {
					"objectType": {"enum": ["item", "collection", "search", "setting"]},
					"key": {"type": "string", "maxLength": 255}
				}
			}
		}
	},
	"additionalProperties": false
}`

// UploadValidator performs schema validation of legacy upload documents. A
// cheap note-size pre-check runs first so an obviously-oversized payload
// never reaches the full schema pass.
type UploadValidator struct {
	schema       *jsonschema.Schema
	maxNoteBytes int
}

// NewUploadValidator compiles the upload grammar
func NewUploadValidator(maxNoteBytes int) (*UploadValidator, error) {
	compiler := jsonschema.NewCompiler()

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(uploadSchema)))
	if err != nil {
		return nil, err
	}
	if err := compiler.AddResource("upload.schema.json", doc); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("upload.schema.json")
	if err != nil {
		return nil, err
	}

	return &UploadValidator{schema: schema, maxNoteBytes: maxNoteBytes}, nil
}

// Validate parses and validates an upload document. Validation failures come
// back as typed errors with stable codes; for oversized-note failures the
// payload must never be logged in full, which SuppressPayloadLog marks.
func (v *UploadValidator) Validate(raw []byte) (*models.UploadDocument, error) {
	var doc models.UploadDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, models.NewBadRequest(models.CodeInvalidRequest, "upload document is not valid JSON")
	}

	if err := v.precheckNotes(&doc); err != nil {
		return nil, err
	}

	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, models.NewBadRequest(models.CodeInvalidRequest, "upload document is not valid JSON")
	}
	if err := v.schema.Validate(value); err != nil {
		return nil, &models.SyncError{
			Status:  http.StatusBadRequest,
			Code:    models.CodeSchemaInvalid,
			Message: models.Excerpt(err.Error(), 500),
		}
	}

	return &doc, nil
}

// precheckNotes rejects documents containing note fields beyond the size
// bound before the full schema pass runs.
func (v *UploadValidator) precheckNotes(doc *models.UploadDocument) error {
	for _, obj := range doc.Objects {
		if obj.ObjectType != models.ObjectTypeItem {
			continue
		}
		var fields struct {
			Note string `json:"note"`
		}
		if err := json.Unmarshal(obj.Data, &fields); err != nil {
			continue
		}
		if len(fields.Note) > v.maxNoteBytes {
			return &models.SyncError{
				Status: http.StatusBadRequest,
				Code:   models.CodeNoteTooLong,
				Message: fmt.Sprintf("note %q is too long (%d bytes, maximum %d)",
					models.Excerpt(fields.Note, 50), len(fields.Note), v.maxNoteBytes),
				SuppressPayloadLog: true,
			}
		}
	}
	return nil
}
