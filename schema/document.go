package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

var errDocumentInvalid = errors.New("schema: invalid document")

// LoadDocument reads a HuJSON file holding a single object.
func LoadDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// ParseDocument parses a HuJSON object. Numbers are decoded as float64.
func ParseDocument(data []byte) (map[string]any, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSONC: %w", errDocumentInvalid, err)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(std), []byte("{")) {
		return nil, fmt.Errorf("%w: not an object", errDocumentInvalid)
	}
	var doc map[string]any
	if err := json.Unmarshal(std, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", errDocumentInvalid, err)
	}
	return doc, nil
}
