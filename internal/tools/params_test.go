package tools

import (
	"encoding/json"
	"testing"
)

func TestGetStringParam(t *testing.T) {
	params := map[string]interface{}{
		"command": "ls -la",
		"count":   3,
	}

	if got := GetStringParam(params, "command", ""); got != "ls -la" {
		t.Errorf("got %q, want %q", got, "ls -la")
	}
	if got := GetStringParam(params, "count", "fallback"); got != "fallback" {
		t.Errorf("wrong type should fall back, got %q", got)
	}
	if got := GetStringParam(params, "missing", "fallback"); got != "fallback" {
		t.Errorf("missing key should fall back, got %q", got)
	}
}

func TestGetIntParam(t *testing.T) {
	params := map[string]interface{}{
		"int":    42,
		"float":  float64(7),
		"number": json.Number("19"),
		"bad":    "nope",
	}

	if got := GetIntParam(params, "int", 0); got != 42 {
		t.Errorf("int: got %d, want 42", got)
	}
	if got := GetIntParam(params, "float", 0); got != 7 {
		t.Errorf("float64: got %d, want 7", got)
	}
	if got := GetIntParam(params, "number", 0); got != 19 {
		t.Errorf("json.Number: got %d, want 19", got)
	}
	if got := GetIntParam(params, "bad", 5); got != 5 {
		t.Errorf("wrong type should fall back, got %d", got)
	}
	if got := GetIntParam(params, "missing", 5); got != 5 {
		t.Errorf("missing key should fall back, got %d", got)
	}
}

func TestGetBoolParam(t *testing.T) {
	params := map[string]interface{}{
		"enabled": true,
		"bad":     "true",
	}

	if !GetBoolParam(params, "enabled", false) {
		t.Error("enabled: got false, want true")
	}
	if GetBoolParam(params, "bad", false) {
		t.Error("wrong type should fall back to false")
	}
	if !GetBoolParam(params, "missing", true) {
		t.Error("missing key should fall back to true")
	}
}
