//go:build !stdjson

package jsoncompat

import "github.com/bytedance/sonic"

// Marshal encodes with sonic unless built with the stdjson tag.
func Marshal(v any) ([]byte, error) { return sonic.Marshal(v) }

// Unmarshal decodes with sonic unless built with the stdjson tag.
func Unmarshal(data []byte, v any) error { return sonic.Unmarshal(data, v) }
