package fallback

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestFreshnessLabel(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want string
	}{
		{0, "0m old"},
		{-5 * time.Minute, "0m old"},
		{17 * time.Minute, "17m old"},
		{59 * time.Minute, "59m old"},
		{90 * time.Minute, "1h30m old"},
		{12 * time.Hour, "12h0m old"},
		{25*time.Hour + 13*time.Minute, "25h13m old"},
	}
	for _, tt := range tests {
		if got := freshnessLabel(tt.age); got != tt.want {
			t.Errorf("freshnessLabel(%v) = %q, want %q", tt.age, got, tt.want)
		}
	}
}

func TestResultJSONOmitsEmptyFields(t *testing.T) {
	res := Result{
		Value:    []byte(`{"ok":true}`),
		Degraded: false,
		Strategy: "primary",
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if strings.Contains(s, "reasons") {
		t.Errorf("clean result should omit reasons, got %s", s)
	}
	if strings.Contains(s, "freshness") {
		t.Errorf("clean result should omit freshness, got %s", s)
	}
	if !strings.Contains(s, `"strategy":"primary"`) {
		t.Errorf("expected strategy field, got %s", s)
	}
}
