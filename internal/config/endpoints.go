package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Endpoint carries the REST and stream bases for one venue and term.
type Endpoint struct {
	BaseURL   string `yaml:"base_url"`
	StreamURL string `yaml:"stream_url,omitempty"`
}

// Endpoints is the venue routing registry, keyed by exchange and term type.
type Endpoints struct {
	Venues map[string]map[string]Endpoint `yaml:"venues"`
}

// DefaultEndpoints returns the built-in venue routing table.
func DefaultEndpoints() *Endpoints {
	return &Endpoints{
		Venues: map[string]map[string]Endpoint{
			"BN": {
				"SPOT": {
					BaseURL:   "https://api.bifu.co",
					StreamURL: "wss://stream.binance.com:9443",
				},
				"UMFUTURE": {
					BaseURL:   "https://fapi.binance.com",
					StreamURL: "wss://fstream.binance.com",
				},
				"FUTURE": {
					BaseURL:   "https://papi.binance.com",
					StreamURL: "wss://fstream.binance.com",
				},
			},
			"OKX": {
				"SPOT": {
					BaseURL:   "https://www.okx.com",
					StreamURL: "wss://ws.okx.com:8443",
				},
				"FUTURE": {
					BaseURL:   "https://www.okx.com",
					StreamURL: "wss://ws.okx.com:8443",
				},
			},
			"BIFU": {
				"SPOT": {
					BaseURL: "https://api.bifu.co",
				},
				"FUTURE": {
					BaseURL: "https://api.bifu.co",
				},
			},
		},
	}
}

// LoadEndpoints merges a YAML override file over the built-in table. An
// empty path returns the defaults unchanged.
func LoadEndpoints(path string) (*Endpoints, error) {
	eps := DefaultEndpoints()
	if path == "" {
		return eps, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoints %s: %w", path, err)
	}
	var override Endpoints
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse endpoints %s: %w", path, err)
	}
	for exchange, terms := range override.Venues {
		exchange = strings.ToUpper(exchange)
		if eps.Venues[exchange] == nil {
			eps.Venues[exchange] = make(map[string]Endpoint)
		}
		for term, ep := range terms {
			term = strings.ToUpper(term)
			merged := eps.Venues[exchange][term]
			if ep.BaseURL != "" {
				merged.BaseURL = ep.BaseURL
			}
			if ep.StreamURL != "" {
				merged.StreamURL = ep.StreamURL
			}
			eps.Venues[exchange][term] = merged
		}
	}
	return eps, nil
}

// Lookup resolves the endpoint for an exchange and term type.
func (e *Endpoints) Lookup(exchange, term string) (Endpoint, bool) {
	terms, ok := e.Venues[strings.ToUpper(exchange)]
	if !ok {
		return Endpoint{}, false
	}
	ep, ok := terms[strings.ToUpper(term)]
	return ep, ok
}
