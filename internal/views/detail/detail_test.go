package detail

import (
	"strings"
	"testing"
	"time"

	"github.com/sefarad-mx/portal/internal/livequery"
)

func TestFieldNamesOrder(t *testing.T) {
	r := &livequery.Record{ID: "p1", Fields: map[string]any{
		"born": "1492", "name": "Abravanel", "city": "Lisboa",
	}}
	got := strings.Join(FieldNames(r), ",")
	if got != "name,born,city" {
		t.Errorf("FieldNames() = %s", got)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		r    livequery.Record
		want string
	}{
		{livequery.Record{ID: "p1", Fields: map[string]any{"name": "Benveniste"}}, "Benveniste"},
		{livequery.Record{ID: "01HZX3K4V5W6Y7Z8A9B0C1D2E3"}, "01HZX3K4V5W6"},
		{livequery.Record{ID: "short"}, "short"},
	}
	for _, tt := range tests {
		if got := DisplayName(&tt.r); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.r.ID, got, tt.want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	if formatValue(float64(1492)) != "1492" {
		t.Error("whole numbers should render without decimals")
	}
	if formatValue(1.5) != "1.5" {
		t.Error("fractions should render as is")
	}
	if formatValue(nil) != "null" {
		t.Error("nil should render as null")
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := formatAge(now.Add(-90*time.Second), now); got != "1m 30s ago" {
		t.Errorf("formatAge = %q", got)
	}
	if got := formatAge(now.Add(-2*time.Hour-5*time.Minute), now); got != "2h 5m ago" {
		t.Errorf("formatAge = %q", got)
	}
}

func TestViewNilRecord(t *testing.T) {
	if New(nil, time.Time{}).View() != "" {
		t.Error("nil record should render nothing")
	}
	v := New(&livequery.Record{ID: "p1", Fields: map[string]any{"name": "Abravanel"}}, time.Time{}).View()
	if !strings.Contains(v, "Abravanel") || !strings.Contains(v, "p1") {
		t.Errorf("detail view missing record data: %q", v)
	}
}
