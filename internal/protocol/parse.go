package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultVersionConstraint accepts every 1.x protocol document.
const DefaultVersionConstraint = ">=1.0.0, <2.0.0"

const documentSchemaURL = "https://processmcp.local/schemas/protocol-document.schema.json"

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["protocolVersion", "handlers"],
  "properties": {
    "protocolVersion": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "lastUpdated": {"type": "string"},
    "capabilities": {"type": "object", "additionalProperties": {"type": "boolean"}},
    "handlers": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/$defs/handler"}
    }
  },
  "$defs": {
    "handler": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "action": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "category": {"type": "string"},
        "isWrite": {"type": "boolean"},
        "pattern": {"type": "object", "additionalProperties": {"type": "string"}},
        "examples": {"type": "array", "items": {"type": "string"}},
        "parameters": {"type": "array", "items": {"$ref": "#/$defs/parameter"}}
      }
    },
    "parameter": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "type": {"enum": ["number", "string", "boolean", "address", "object", "array"]},
        "required": {"type": "boolean"},
        "description": {"type": "string"},
        "examples": {"type": "array", "items": {"type": "string"}},
        "validation": {
          "type": "object",
          "properties": {
            "pattern": {"type": "string"},
            "min": {"type": "number"},
            "max": {"type": "number"},
            "enum": {"type": "array", "items": {"type": "string"}},
            "minLength": {"type": "integer", "minimum": 0},
            "maxLength": {"type": "integer", "minimum": 0}
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func documentValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(documentSchemaURL, strings.NewReader(documentSchema)); err != nil {
			schemaErr = fmt.Errorf("protocol schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(documentSchemaURL)
	})
	return compiledSchema, schemaErr
}

// Parser turns raw discovery payloads into validated documents.
type Parser struct {
	constraint *semver.Constraints
}

// NewParser builds a parser accepting versions that satisfy constraint.
// An empty constraint falls back to DefaultVersionConstraint.
func NewParser(constraint string) (*Parser, error) {
	if strings.TrimSpace(constraint) == "" {
		constraint = DefaultVersionConstraint
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("invalid protocol version constraint %q: %w", constraint, err)
	}
	return &Parser{constraint: c}, nil
}

var defaultParser = func() *Parser {
	p, err := NewParser(DefaultVersionConstraint)
	if err != nil {
		panic(err)
	}
	return p
}()

// ParseDocument parses raw with the default version constraint.
func ParseDocument(raw []byte) (*Document, error) {
	return defaultParser.Parse(raw)
}

// Parse validates raw structurally and by version, then decodes it.
func (p *Parser) Parse(raw []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty protocol document")
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("malformed protocol document: %w", err)
	}

	schema, err := documentValidator()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("protocol document failed schema validation: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode protocol document: %w", err)
	}

	version, err := semver.NewVersion(doc.ProtocolVersion)
	if err != nil {
		return nil, fmt.Errorf("unrecognized protocol version %q: %w", doc.ProtocolVersion, err)
	}
	if !p.constraint.Check(version) {
		return nil, fmt.Errorf("unsupported protocol version %s", doc.ProtocolVersion)
	}

	for i := range doc.Handlers {
		if doc.Handlers[i].Category == "" {
			doc.Handlers[i].Category = InferCategory(doc.Handlers[i].Action, doc.Handlers[i].Description)
		}
	}
	return &doc, nil
}
