package playback

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	const size = 4096

	tests := []struct {
		name    string
		header  string
		want    *Range
		wantErr error
	}{
		{name: "no header", header: ""},
		{name: "whole file", header: "bytes=0-4095", want: &Range{0, 4095}},
		{name: "open ended", header: "bytes=1024-", want: &Range{1024, 4095}},
		{name: "suffix", header: "bytes=-96", want: &Range{4000, 4095}},
		{name: "suffix beyond start", header: "bytes=-10000", want: &Range{0, 4095}},
		{name: "end clamped", header: "bytes=4000-9999", want: &Range{4000, 4095}},
		{name: "first byte", header: "bytes=0-0", want: &Range{0, 0}},
		{name: "first of several", header: "bytes=10-19, 30-39", want: &Range{10, 19}},

		{name: "start at size", header: "bytes=4096-", wantErr: ErrUnsatisfiable},
		{name: "start past end", header: "bytes=200-100", wantErr: ErrUnsatisfiable},
		{name: "missing unit", header: "0-10", wantErr: ErrInvalidRange},
		{name: "other unit", header: "items=0-10", wantErr: ErrInvalidRange},
		{name: "no dash", header: "bytes=10", wantErr: ErrInvalidRange},
		{name: "garbage start", header: "bytes=x-10", wantErr: ErrInvalidRange},
		{name: "garbage end", header: "bytes=0-y", wantErr: ErrInvalidRange},
		{name: "empty suffix", header: "bytes=-0", wantErr: ErrInvalidRange},
		{name: "two dashes", header: "bytes=1-2-3", wantErr: ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, size)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseRange(%q) error = %v, want %v", tt.header, err, tt.wantErr)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("ParseRange(%q) = %+v, want nil", tt.header, *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("ParseRange(%q) = %v, want %+v", tt.header, got, *tt.want)
			}
		})
	}
}

func TestParseRange_EmptyFile(t *testing.T) {
	if _, err := ParseRange("bytes=0-", 0); !errors.Is(err, ErrUnsatisfiable) {
		t.Errorf("ParseRange on empty file error = %v, want ErrUnsatisfiable", err)
	}
}

func TestRange_Headers(t *testing.T) {
	r := Range{Start: 100, End: 199}
	if got := r.ContentLength(); got != 100 {
		t.Errorf("ContentLength() = %d, want 100", got)
	}
	if got := r.ContentRange(4096); got != "bytes 100-199/4096" {
		t.Errorf("ContentRange() = %q", got)
	}
}
