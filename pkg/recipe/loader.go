package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LoadFile reads and structurally decodes a recipe JSON document.
// Unknown keys anywhere in the document are rejected.
func LoadFile(path string) (*Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipe: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a recipe document from a reader.
func Load(r io.Reader) (*Recipe, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}
	var rc Recipe
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields() // strict: reject unknown keys
	if err := dec.Decode(&rc); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	// A second document after the first is as malformed as an unknown key.
	if dec.More() {
		return nil, fmt.Errorf("structural decode: trailing content after recipe document")
	}
	return &rc, nil
}
