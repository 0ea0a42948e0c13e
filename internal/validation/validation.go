// Package validation checks ingestion and dispatch payloads against JSON
// schemas before they are decoded into records.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Fields are optional because ingestion defaults them; the schemas only pin
// down types so a numeric sender or an array timestamp is rejected.
const (
	smsSchema = `{
  "type": "object",
  "properties": {
    "sender":    {"type": ["string", "null"]},
    "message":   {"type": ["string", "null"]},
    "timestamp": {"type": ["string", "null"]},
    "device_id": {"type": ["string", "null"]}
  }
}`

	formSchema = `{
  "type": "object",
  "properties": {
    "device_id": {"type": ["string", "null"]},
    "timestamp": {"type": ["string", "null"]},
    "data": {}
  }
}`

	commandSchema = `{
  "type": "object",
  "required": ["device_id"],
  "properties": {
    "device_id": {"type": "string", "minLength": 1},
    "type":      {"type": ["string", "null"]},
    "data": {}
  }
}`
)

type Validator struct {
	sms     *jsonschema.Schema
	form    *jsonschema.Schema
	command *jsonschema.Schema
}

func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	for name, src := range map[string]string{
		"sms.json":     smsSchema,
		"form.json":    formSchema,
		"command.json": commandSchema,
	} {
		if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	v := &Validator{}
	var err error
	if v.sms, err = compiler.Compile("sms.json"); err != nil {
		return nil, err
	}
	if v.form, err = compiler.Compile("form.json"); err != nil {
		return nil, err
	}
	if v.command, err = compiler.Compile("command.json"); err != nil {
		return nil, err
	}
	return v, nil
}

// MustNew is for wiring code and tests where the embedded schemas are known good.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Validator) SMS(body []byte) error     { return validate(v.sms, body) }
func (v *Validator) Form(body []byte) error    { return validate(v.form, body) }
func (v *Validator) Command(body []byte) error { return validate(v.command, body) }

func validate(schema *jsonschema.Schema, body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return err
	}
	return nil
}
