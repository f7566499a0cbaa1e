package output

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"
)

type saveRow struct {
	ID      string        `json:"id" yaml:"id"`
	Frame   int32         `json:"frame" yaml:"frame"`
	Age     time.Duration `json:"age" yaml:"age"`
	Path    string        `json:"path" yaml:"path" table:"wide"`
	private string
	Secret  string `json:"secret" table:"-"`
}

type state uint8

func (s state) String() string { return "ready" }

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"json", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestNewFormatter(t *testing.T) {
	if _, ok := NewFormatter(FormatJSON, false).(*JSONFormatter); !ok {
		t.Error("expected JSONFormatter")
	}
	if _, ok := NewFormatter(FormatYAML, false).(*YAMLFormatter); !ok {
		t.Error("expected YAMLFormatter")
	}
	tf, ok := NewFormatter("other", true).(*TableFormatter)
	if !ok || !tf.Wide {
		t.Error("expected wide TableFormatter")
	}
}

func TestTableFormatter_Slice(t *testing.T) {
	rows := []saveRow{
		{ID: "save-1", Frame: 120, Age: 2 * time.Second, Path: "/tmp/a", Secret: "x"},
		{ID: "save-2", Frame: 240, Age: time.Minute, Path: "/tmp/b"},
	}

	tests := []struct {
		name    string
		wide    bool
		want    []string
		notWant []string
	}{
		{"narrow", false, []string{"ID", "FRAME", "AGE", "save-1", "240", "1m0s"}, []string{"PATH", "/tmp/a", "SECRET", "PRIVATE"}},
		{"wide", true, []string{"PATH", "/tmp/b"}, []string{"SECRET"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := (&TableFormatter{Wide: tt.wide}).Format(&buf, rows); err != nil {
				t.Fatalf("Format() error = %v", err)
			}
			out := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q:\n%s", s, out)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(out, s) {
					t.Errorf("output should not contain %q:\n%s", s, out)
				}
			}
		})
	}
}

func TestTableFormatter_StructAndMap(t *testing.T) {
	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, &saveRow{ID: "save-9", Frame: 7}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "FIELD") || !strings.Contains(buf.String(), "save-9") {
		t.Errorf("struct output:\n%s", buf.String())
	}

	buf.Reset()
	if err := f.Format(&buf, map[string]int{"b": 2, "a": 1}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "a") {
		t.Errorf("map rows should be sorted:\n%s", buf.String())
	}
}

func TestTableFormatter_TableAndNil(t *testing.T) {
	table := &Table{}
	table.SetHeaders("NAME", "VALUE")
	table.AddRow("k", "v")

	var buf bytes.Buffer
	if err := (&TableFormatter{NoHeaders: true}).Format(&buf, table); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "NAME") || !strings.Contains(buf.String(), "k") {
		t.Errorf("no-header output:\n%s", buf.String())
	}

	buf.Reset()
	if err := (&TableFormatter{}).Format(&buf, nil); err != nil || buf.Len() != 0 {
		t.Errorf("Format(nil) = %q, %v", buf.String(), err)
	}
}

func TestTableFormatter_FallbackToJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, 42); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "42" {
		t.Errorf("fallback output = %q", buf.String())
	}
}

func TestFormatValue(t *testing.T) {
	name := "ptr"
	var nilPtr *string
	tests := []struct {
		name  string
		input reflect.Value
		want  string
	}{
		{"string", reflect.ValueOf("hello"), "hello"},
		{"empty string", reflect.ValueOf(""), "-"},
		{"int32", reflect.ValueOf(int32(-1)), "-1"},
		{"uint", reflect.ValueOf(uint(9)), "9"},
		{"float", reflect.ValueOf(3.14159), "3.14"},
		{"bool", reflect.ValueOf(true), "true"},
		{"slice", reflect.ValueOf([]int{1, 2}), "[2 items]"},
		{"empty map", reflect.ValueOf(map[string]int{}), "-"},
		{"duration", reflect.ValueOf(1500 * time.Millisecond), "1.5s"},
		{"time", reflect.ValueOf(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)), "2026-01-02 03:04:05"},
		{"zero time", reflect.ValueOf(time.Time{}), "-"},
		{"stringer", reflect.ValueOf(state(1)), "ready"},
		{"pointer", reflect.ValueOf(&name), "ptr"},
		{"nil pointer", reflect.ValueOf(nilPtr), ""},
		{"invalid", reflect.Value{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatValue(tt.input); got != tt.want {
				t.Errorf("formatValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Name", "name"},
		{"MatchID", "match_i_d"},
		{"CreatedAt", "created_at"},
	}
	for _, tt := range tests {
		if got := toSnakeCase(tt.in); got != tt.want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJSONAndYAMLFormatters(t *testing.T) {
	row := saveRow{ID: "save-1", Frame: 12}

	var buf bytes.Buffer
	if err := (&JSONFormatter{}).Format(&buf, row); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"frame": 12`) {
		t.Errorf("json output:\n%s", buf.String())
	}

	buf.Reset()
	if err := (&YAMLFormatter{}).Format(&buf, row); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "id: save-1") || !strings.Contains(buf.String(), "frame: 12") {
		t.Errorf("yaml output:\n%s", buf.String())
	}
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressBar(&buf, "replay", "frames", 200)
	for i := 0; i < 200; i++ {
		p.Increment(1)
	}
	p.Finish()

	out := buf.String()
	if !strings.Contains(out, "100%") || !strings.Contains(out, "(200/200 frames)") {
		t.Errorf("progress output missing completion: %q", out)
	}
	// 101 distinct percentages plus the final render.
	if n := strings.Count(out, "\r"); n != 102 {
		t.Errorf("renders = %d, want 102", n)
	}

	buf.Reset()
	p = NewProgressBar(&buf, "scan", "frames", 0)
	p.Increment(5)
	p.Finish()
	if !strings.Contains(buf.String(), "scan 5 frames") {
		t.Errorf("unknown-total output = %q", buf.String())
	}
}
