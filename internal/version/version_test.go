package version

import "testing"

func TestGet_Defaults(t *testing.T) {
	vi := Get()
	if vi.AppName != AppName {
		t.Fatalf("AppName = %q, want %q", vi.AppName, AppName)
	}
	if vi.Version == "" {
		t.Fatal("Version should never be empty")
	}
	if vi.Commit == "" {
		t.Fatal("Commit should never be empty")
	}
}

func TestInfo_Dirty(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		in   *bool
		want string
	}{
		{nil, "unknown"},
		{&yes, "true"},
		{&no, "false"},
	}
	for _, tt := range tests {
		if got := (Info{VCSDirty: tt.in}).Dirty(); got != tt.want {
			t.Errorf("Dirty() = %q, want %q", got, tt.want)
		}
	}
}
