package tripsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// queueRecordSchema is the persisted queue record contract. Records that no
// longer satisfy it (truncated files, hand-edited spools, older layouts) are
// skipped on load instead of poisoning every subsequent drain.
const queueRecordSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "kind", "collection", "scopeId", "timestamp"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "kind": {"enum": ["save", "delete"]},
    "collection": {"type": "string", "minLength": 1},
    "scopeId": {"type": "string", "minLength": 1},
    "payload": {"type": "array"},
    "timestamp": {"type": "string", "minLength": 1},
    "retryCount": {"type": "integer", "minimum": 0}
  }
}`

var (
	queueSchemaOnce sync.Once
	queueSchema     *jsonschema.Schema
	queueSchemaErr  error
)

func compiledQueueSchema() (*jsonschema.Schema, error) {
	queueSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(queueRecordSchema))
		if err != nil {
			queueSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("queue-record.json", doc); err != nil {
			queueSchemaErr = err
			return
		}
		queueSchema, queueSchemaErr = compiler.Compile("queue-record.json")
	})
	return queueSchema, queueSchemaErr
}

// DecodeOperation parses one persisted queue record, validating it against
// the queue record schema before unmarshalling.
func DecodeOperation(raw []byte) (SyncOperation, error) {
	schema, err := compiledQueueSchema()
	if err != nil {
		return SyncOperation{}, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return SyncOperation{}, fmt.Errorf("queue record is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return SyncOperation{}, fmt.Errorf("queue record rejected by schema: %w", err)
	}
	var op SyncOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return SyncOperation{}, err
	}
	return op, nil
}

// EncodeOperation serializes an operation for durable storage.
func EncodeOperation(op SyncOperation) ([]byte, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(op)
}
