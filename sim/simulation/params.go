package simulation

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sarchlab/chipsim/sim/timing"
)

// Params are the free-form parameters of a component, as decoded from a
// machine description.
type Params map[string]any

// Has tells if the parameter is set.
func (p Params) Has(key string) bool {
	_, found := p[key]
	return found
}

// String returns a string parameter.
func (p Params) String(key, def string) (string, error) {
	v, found := p[key]
	if !found {
		return def, nil
	}

	s, ok := v.(string)
	if !ok {
		return "", p.typeError(key, "a string")
	}

	return s, nil
}

// Bool returns a boolean parameter.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, found := p[key]
	if !found {
		return def, nil
	}

	b, ok := v.(bool)
	if !ok {
		return false, p.typeError(key, "a boolean")
	}

	return b, nil
}

// Uint returns an unsigned integer parameter. Strings are parsed with Go
// integer syntax, so "0x10" and "0b101" work.
func (p Params) Uint(key string, def uint64) (uint64, error) {
	v, found := p[key]
	if !found {
		return def, nil
	}

	n, ok := toUint(v)
	if !ok {
		return 0, p.typeError(key, "a non-negative integer")
	}

	return n, nil
}

// VTime returns a time parameter such as "10ms".
func (p Params) VTime(key string, def timing.VTime) (timing.VTime, error) {
	v, found := p[key]
	if !found {
		return def, nil
	}

	switch v := v.(type) {
	case string:
		return timing.ParseVTime(v)
	case timing.VTime:
		return v, nil
	}

	n, ok := toUint(v)
	if !ok {
		return timing.Zero, p.typeError(key, "a time")
	}

	return timing.FromSec(int64(n)), nil
}

// Bytes returns a byte string parameter. It is either a list of integers or
// a string of hex digits, where spaces are ignored.
func (p Params) Bytes(key string) ([]byte, error) {
	v, found := p[key]
	if !found {
		return nil, nil
	}

	switch v := v.(type) {
	case []byte:
		return v, nil
	case string:
		b, err := hex.DecodeString(strings.Join(strings.Fields(v), ""))
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}

		return b, nil
	case []any:
		out := make([]byte, len(v))
		for i, e := range v {
			n, ok := toUint(e)
			if !ok || n > math.MaxUint8 {
				return nil, p.typeError(key, "a list of bytes")
			}

			out[i] = byte(n)
		}

		return out, nil
	}

	return nil, p.typeError(key, "a list of bytes")
}

func (p Params) typeError(key, want string) error {
	return fmt.Errorf("parameter %s must be %s, got %v", key, want, p[key])
}

func toUint(v any) (uint64, bool) {
	switch v := v.(type) {
	case int:
		return uint64(v), v >= 0
	case int64:
		return uint64(v), v >= 0
	case uint64:
		return v, true
	case uint:
		return uint64(v), true
	case float64:
		if v < 0 || v != math.Trunc(v) || v > math.MaxUint64 {
			return 0, false
		}

		return uint64(v), true
	case string:
		n, err := strconv.ParseUint(strings.ReplaceAll(v, "_", ""), 0, 64)
		return n, err == nil
	}

	return 0, false
}
