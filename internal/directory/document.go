// Package directory maps network identifiers to deployed ledger instances.
// The mapping lives in a single document kept in the blob store, in the
// layout the deploy tooling has always written:
//
//	{"networks": {"31337": {"SupplyChain": {"address": "http://..."}}}}
package directory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ContractName is the entry recorded for the ledger in each network.
const ContractName = "SupplyChain"

// Deployment locates one deployed ledger instance.
type Deployment struct {
	Address    string    `json:"address" yaml:"address" toml:"address"`
	Owner      string    `json:"owner,omitempty" yaml:"owner,omitempty" toml:"owner,omitempty"`
	DeployedAt time.Time `json:"deployed_at,omitzero" yaml:"deployed_at,omitempty" toml:"deployed_at,omitempty"`
}

// Contracts holds the deployments of one network by contract name.
type Contracts map[string]Deployment

// Document is the whole deployment directory.
type Document struct {
	Networks map[string]Contracts `json:"networks" yaml:"networks" toml:"networks"`
}

// Lookup returns the deployment of contract on network.
func (d Document) Lookup(network, contract string) (Deployment, bool) {
	dep, ok := d.Networks[network][contract]
	return dep, ok
}

// Set records dep as the deployment of contract on network.
func (d *Document) Set(network, contract string, dep Deployment) {
	if d.Networks == nil {
		d.Networks = make(map[string]Contracts)
	}
	if d.Networks[network] == nil {
		d.Networks[network] = make(Contracts)
	}
	d.Networks[network][contract] = dep
}

// NetworkIDs returns the networks that carry contract, sorted.
func (d Document) NetworkIDs(contract string) []string {
	out := make([]string, 0, len(d.Networks))
	for id, contracts := range d.Networks {
		if _, ok := contracts[contract]; ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Format is a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForKey picks the encoding from the key's extension; unknown
// extensions use JSON.
func FormatForKey(key string) Format {
	switch strings.ToLower(path.Ext(key)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	}
	return FormatJSON
}

// Decode parses data in format. Empty input yields an empty document.
func Decode(data []byte, format Format) (Document, error) {
	var doc Document
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatTOML:
		_, err = toml.Decode(string(data), &doc)
	case FormatJSON, "":
		err = json.Unmarshal(data, &doc)
	default:
		return Document{}, fmt.Errorf("unknown directory format %q", format)
	}
	if err != nil {
		return Document{}, fmt.Errorf("decode %s directory: %w", format, err)
	}
	return doc, nil
}

// Encode renders doc in format.
func Encode(doc Document, format Format) ([]byte, error) {
	if doc.Networks == nil {
		doc.Networks = map[string]Contracts{}
	}
	switch format {
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, fmt.Errorf("encode toml directory: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON, "":
		return json.MarshalIndent(doc, "", "  ")
	}
	return nil, fmt.Errorf("unknown directory format %q", format)
}
