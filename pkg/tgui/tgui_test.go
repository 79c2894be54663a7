package tgui

import "testing"

func TestEscEscapesMarkup(t *testing.T) {
	got := Esc(`<b>&"hi"</b>`).String()
	want := "&lt;b&gt;&amp;&#34;hi&#34;&lt;/b&gt;"
	if got != want {
		t.Fatalf("Esc: got %q, want %q", got, want)
	}
}

func TestJoinHSkipsBlank(t *testing.T) {
	got := JoinH("\n", B("head"), H(""), I("tail")).String()
	want := "<b>head</b>\n<i>tail</i>"
	if got != want {
		t.Fatalf("JoinH: got %q, want %q", got, want)
	}
}

func TestTruncRunes(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hell…"},
		{"héllö", 3, "hél…"},
		{"x", 0, ""},
	}
	for _, c := range cases {
		if got := TruncRunes(c.in, c.n); got != c.want {
			t.Errorf("TruncRunes(%q, %d) = %q, want %q", c.in, c.n, got, c.want)
		}
	}
}
