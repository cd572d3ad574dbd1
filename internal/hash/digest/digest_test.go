package digest

import "testing"

func TestHasherKnownDigests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		algorithm string
		want      string
	}{
		{algorithm: SHA1, want: "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"},
		{algorithm: SHA256, want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.algorithm, func(t *testing.T) {
			t.Parallel()
			h, err := New(tt.algorithm)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			got, err := h.Hash([]byte("hello world"))
			if err != nil {
				t.Fatalf("Hash() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			again, err := h.Hash([]byte("hello world"))
			if err != nil || again != got {
				t.Fatalf("expected deterministic hash, got %s vs %s (%v)", got, again, err)
			}
			if h.Algorithm() != tt.algorithm {
				t.Fatalf("expected algorithm %s, got %s", tt.algorithm, h.Algorithm())
			}
		})
	}
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	if _, err := New("md5"); err == nil {
		t.Fatal("expected md5 to be rejected")
	}
}
