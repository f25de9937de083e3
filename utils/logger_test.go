package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogger_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf)

	l.Info("donation created", Fields{"donation_id": 7})
	l.Error("charge failed", Fields{"error": errors.New("timeout")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}

	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if first["level"] != "info" || first["message"] != "donation created" || first["donation_id"] != float64(7) {
		t.Errorf("entry = %v", first)
	}
	if _, ok := first["timestamp"]; !ok {
		t.Error("timestamp missing")
	}

	var second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if second["level"] != "error" || second["error"] != "timeout" {
		t.Errorf("entry = %v", second)
	}
}

func TestGenerateQRCode(t *testing.T) {
	png, err := GenerateQRCode("https://checkout.paystack.com/acc_42", 0)
	if err != nil {
		t.Fatalf("GenerateQRCode() error = %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("output is not a PNG")
	}
}

func TestGenerateConnID(t *testing.T) {
	a, b := GenerateConnID(), GenerateConnID()
	if a == b || len(a) != 36 {
		t.Errorf("GenerateConnID() = %q, %q", a, b)
	}
}
