package fullname

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		raw  string
		want FullName
	}{
		{"N1.c2", FullName{Namespace: "N1", Local: "c2"}},
		{"c2", FullName{Local: "c2"}},
		{"N1.", FullName{Namespace: "N1"}},
		{"", FullName{}},
	}
	for _, c := range cases {
		got, err := Parse(c.raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.raw, err)
		}
		if got != c.want {
			t.Errorf("Parse(%q) = %+v, want %+v", c.raw, got, c.want)
		}
	}
}

func TestParseRejectsExtraDot(t *testing.T) {
	if _, err := Parse("N1.a.b"); err == nil {
		t.Fatal("expected an error for a local part containing '.'")
	}
}

func TestStringRoundTrip(t *testing.T) {
	f := FullName{Namespace: "N1", Local: "c2"}
	if f.String() != "N1.c2" {
		t.Errorf("String() = %q, want N1.c2", f.String())
	}
	bare := FullName{Local: "c2"}
	if bare.String() != "c2" {
		t.Errorf("String() = %q, want c2", bare.String())
	}
}

func TestWithDefaultNamespace(t *testing.T) {
	f := FullName{Local: "c2"}.WithDefaultNamespace("N1")
	if f.Namespace != "N1" {
		t.Errorf("Namespace = %q, want N1", f.Namespace)
	}
	already := FullName{Namespace: "N2", Local: "c2"}.WithDefaultNamespace("N1")
	if already.Namespace != "N2" {
		t.Errorf("WithDefaultNamespace must not override an existing namespace, got %q", already.Namespace)
	}
}

func TestIsCoordinator(t *testing.T) {
	if !Coordinator("N1").IsCoordinator() {
		t.Error("Coordinator(\"N1\") should report IsCoordinator")
	}
	if (FullName{Namespace: "N1", Local: "c2"}).IsCoordinator() {
		t.Error("an ordinary Component should not report IsCoordinator")
	}
}

func TestDefaultNamespaceReplacesDots(t *testing.T) {
	if got := DefaultNamespace("lab1.example.org"); got != "lab1_example_org" {
		t.Errorf("DefaultNamespace = %q, want lab1_example_org", got)
	}
}
