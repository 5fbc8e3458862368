package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/talgya/townsim/internal/simerr"
)

const maxBodyBytes = 16 << 10

var (
	tradeSchema = jsonschema.MustCompileString("trade.schema.json", `{
		"type": "object",
		"required": ["good", "quantity", "direction"],
		"additionalProperties": false,
		"properties": {
			"good": {"type": "string", "minLength": 1, "maxLength": 64},
			"quantity": {"type": "integer", "minimum": 1, "maximum": 10000},
			"direction": {"enum": ["buy", "sell"]}
		}
	}`)

	talkSchema = jsonschema.MustCompileString("talk.schema.json", `{
		"type": "object",
		"required": ["agent"],
		"additionalProperties": false,
		"properties": {
			"agent": {"type": "string", "minLength": 1, "maxLength": 64}
		}
	}`)

	speedSchema = jsonschema.MustCompileString("speed.schema.json", `{
		"type": "object",
		"required": ["speed"],
		"additionalProperties": false,
		"properties": {
			"speed": {"type": "number", "minimum": 0, "maximum": 100}
		}
	}`)
)

// decodeBody validates the request body against schema, then decodes it
// into dst. Any failure is a MalformedCommand.
func decodeBody(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return simerr.New(simerr.MalformedCommand, "reading body: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return simerr.New(simerr.MalformedCommand, "invalid json: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return simerr.New(simerr.MalformedCommand, "%s", ve.Error())
		}
		return simerr.New(simerr.MalformedCommand, "%v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return simerr.New(simerr.MalformedCommand, "invalid body: %v", err)
	}
	return nil
}
