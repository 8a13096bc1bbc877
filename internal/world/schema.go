package world

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed world.schema.json
var documentSchema string

const schemaURL = "world.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Violation - одно нарушение схемы документа мира
type Violation struct {
	Path    string `json:"path"` // JSON Pointer, например /worlddata/3/layer
	Message string `json:"message"`
}

func (v Violation) String() string {
	path := v.Path
	if path == "" {
		path = "/"
	}
	return path + ": " + v.Message
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, strings.NewReader(documentSchema)); err != nil {
			schemaErr = fmt.Errorf("world schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// ValidateDocument проверяет JSON-документ мира строже, чем декодер:
// ParseJSON принимает любые формы (неподходящие поля просто игнорируются),
// а здесь сообщается о каждом поле, которое будет проигнорировано или не разберётся.
// Ошибка возвращается только для синтаксически некорректного JSON.
func ValidateDocument(data []byte) ([]Violation, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("world document: %w", err)
	}

	err = s.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}

	var out []Violation
	collectViolations(ve, &out)
	return out, nil
}

// collectViolations собирает листья дерева ошибок: они указывают на конкретные поля
func collectViolations(ve *jsonschema.ValidationError, out *[]Violation) {
	if len(ve.Causes) == 0 {
		*out = append(*out, Violation{Path: ve.InstanceLocation, Message: ve.Message})
		return
	}
	for _, c := range ve.Causes {
		collectViolations(c, out)
	}
}
