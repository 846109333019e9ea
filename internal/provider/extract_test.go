package provider

import (
	"reflect"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	done := map[string]any{
		"action":          map[string]any{"type": "DONE", "content": "", "target": ""},
		"cognitive_state": map[string]any{"goals": "", "attention": "", "emotions": ""},
	}
	tests := []struct {
		name string
		in   string
		want any
		ok   bool
	}{
		{"fenced", fencedDone, done, true},
		{"plain", `{"a": 1}`, map[string]any{"a": float64(1)}, true},
		{
			"segments with preamble",
			"Here are my actions:\n\n{\"a\": 1}\n\n{\"b\": 2}",
			[]any{map[string]any{"a": float64(1)}, map[string]any{"b": float64(2)}},
			true,
		},
		{
			"segments without preamble",
			"{\"a\": 1}\n\n{\"b\": 2}\n\n",
			[]any{map[string]any{"a": float64(1)}, map[string]any{"b": float64(2)}},
			true,
		},
		{"single segment after preamble", "Sure!\n\n[1, 2]", []any{float64(1), float64(2)}, true},
		{"garbage", "I cannot comply.", nil, false},
		{"empty", "   ", nil, false},
		{"broken segment", "{\"a\": 1}\n\n{\"b\":", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExtractLooseJSON(t *testing.T) {
	got := ExtractLooseJSON("The answer is:\n```json\n{\n\t\"ad_number\": 2,\n\t\"ad_title\": \"Fresh\"\n}\n```\nThanks!")
	want := map[string]any{"ad_number": float64(2), "ad_title": "Fresh"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
	if v := ExtractLooseJSON("no json here"); v != nil {
		t.Errorf("got %#v, want nil", v)
	}
}
