// Package access reconciles documents across the client-local persisted store
// and the hosted backend, and drives multi-principal grant/revoke with
// partial-success semantics.
package access

import (
	"encoding/json"
	"errors"
	"fmt"

	"vaultnotes/client/internal/engine"
)

// ErrNotAList marks an item append against non-list content.
var ErrNotAList = errors.New("content is not a list")

// TypeList marks list-shaped content. Any other Type is treated as the mime
// type of an opaque file payload.
const TypeList = "list"

// Content is the decrypted logical payload of a document. The shape is
// application-defined and opaque to the crypto engine.
type Content struct {
	Type string
	List []string
	File []byte
}

func NewList(items ...string) Content {
	return Content{Type: TypeList, List: items}
}

func NewFile(mimeType string, data []byte) Content {
	return Content{Type: mimeType, File: data}
}

func (c Content) IsList() bool { return c.Type == TypeList }

// AddItem appends one item to list content. File content cannot be appended
// to.
func (c *Content) AddItem(item string) error {
	if !c.IsList() {
		return fmt.Errorf("cannot add item to %q content: %w", c.Type, ErrNotAList)
	}
	c.List = append(c.List, item)
	return nil
}

type contentWire struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

func (c Content) MarshalJSON() ([]byte, error) {
	var body any
	if c.IsList() {
		items := c.List
		if items == nil {
			items = []string{}
		}
		body = items
	} else {
		body = engine.BytesBase64(c.File)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(contentWire{Type: c.Type, Content: raw})
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var wire contentWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Type == "" {
		return fmt.Errorf("document content is missing a type")
	}
	if wire.Type == TypeList {
		var items []string
		if err := json.Unmarshal(wire.Content, &items); err != nil {
			return fmt.Errorf("malformed list content: %w", err)
		}
		*c = Content{Type: TypeList, List: items}
		return nil
	}
	var encoded string
	if err := json.Unmarshal(wire.Content, &encoded); err != nil {
		return fmt.Errorf("malformed file content: %w", err)
	}
	decoded, err := engine.Base64Bytes(encoded)
	if err != nil {
		return fmt.Errorf("malformed file content: %w", err)
	}
	*c = Content{Type: wire.Type, File: decoded}
	return nil
}
