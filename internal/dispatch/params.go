package dispatch

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// params gives typed access to the members of a request object.
// Missing and null members are treated alike.
type params map[string]json.RawMessage

func (p params) raw(name string) (json.RawMessage, bool) {
	v, ok := p[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

// str returns a string member, or def when absent.
func (p params) str(name, def string) (string, error) {
	v, ok := p.raw(name)
	if !ok {
		return def, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", &paramError{name: name, reason: "must be a string"}
	}
	return s, nil
}

// requiredStr returns a non-empty string member.
func (p params) requiredStr(name string) (string, error) {
	s, err := p.str(name, "")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", &paramError{name: name, reason: "is required"}
	}
	return s, nil
}

// float returns a numeric member. Numeric strings are accepted.
func (p params) float(name string) (float64, bool, error) {
	v, ok := p.raw(name)
	if !ok {
		return 0, false, nil
	}

	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true, nil
		}
	}
	return 0, false, &paramError{name: name, reason: "must be a number"}
}

// requiredFloat returns a numeric member that must be present.
func (p params) requiredFloat(name string) (float64, error) {
	f, ok, err := p.float(name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &paramError{name: name, reason: "is required"}
	}
	return f, nil
}

// int returns an integral member, or def when absent.
func (p params) int(name string, def int) (int, error) {
	f, ok, err := p.float(name)
	if err != nil {
		return 0, &paramError{name: name, reason: "must be an integer"}
	}
	if !ok {
		return def, nil
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, &paramError{name: name, reason: "must be an integer"}
	}
	return int(f), nil
}

// requiredInt returns an integral member that must be present.
func (p params) requiredInt(name string) (int, error) {
	if _, ok := p.raw(name); !ok {
		return 0, &paramError{name: name, reason: "is required"}
	}
	return p.int(name, 0)
}

// boolean returns a bool member, or def when absent.
func (p params) boolean(name string, def bool) (bool, error) {
	v, ok := p.raw(name)
	if !ok {
		return def, nil
	}
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		return false, &paramError{name: name, reason: "must be a boolean"}
	}
	return b, nil
}
