package canon

import (
	"errors"
	"testing"
)

func TestCanonicalize_MirrorWithQuery(t *testing.T) {
	got, err := Canonicalize("https://teraboxurl.com/s/1AbCdEf?foo=1")
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if got.URL != "https://1024terabox.com/s/AbCdEf" {
		t.Fatalf("URL: got %q", got.URL)
	}
	if got.Token != "AbCdEf" {
		t.Fatalf("Token: got %q", got.Token)
	}
}

func TestCanonicalize_UnknownHost(t *testing.T) {
	_, err := Canonicalize("https://example.org/s/xyz")
	if !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("expected ErrInvalidLink, got %v", err)
	}
	var ile *InvalidLinkError
	if !errors.As(err, &ile) || ile.Input != "https://example.org/s/xyz" {
		t.Fatalf("expected *InvalidLinkError carrying input, got %#v", err)
	}
}

func TestCanonicalize_Repairs(t *testing.T) {
	cases := []struct {
		in, url, token string
	}{
		{"https://https://terabox.com/s/1abc", "https://1024terabox.com/s/abc", "abc"},
		{"1024https://terabox.com/s/1abc", "https://1024terabox.com/s/abc", "abc"},
		{"http:/teraboxapp.com/s/1abc", "https://1024terabox.com/s/abc", "abc"},
		{"https://1024terabox.com/1024terabox.com/s/1abc", "https://1024terabox.com/s/abc", "abc"},
		{"https://www.terabox.com1024terabox.com/s/1abc", "https://1024terabox.com/s/abc", "abc"},
		{"terabox.app/s/1abc", "https://1024terabox.com/s/abc", "abc"},
		{"  https://WWW.NephoBox.com/s/1abc/  ", "https://1024terabox.com/s/abc", "abc"},
		{"https://www.1024tera.com/s/1x_y-z#frag", "https://1024terabox.com/s/x_y-z", "x_y-z"},
		{"https://www.terabox.com/sharing/link?surl=1keepme", "https://1024terabox.com/s/1keepme", "1keepme"},
		{"https://terabox.com/s/abc", "https://1024terabox.com/s/abc", "abc"},
		{"https://ｔｅｒａｂｏｘ.com/s/1abc", "https://1024terabox.com/s/abc", "abc"},
	}
	for _, tc := range cases {
		got, err := Canonicalize(tc.in)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", tc.in, err)
		}
		if got.URL != tc.url || got.Token != tc.token {
			t.Fatalf("Canonicalize(%q): got %+v, want url=%q token=%q", tc.in, got, tc.url, tc.token)
		}
	}
}

func TestCanonicalize_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"https://terabox.com/",
		"https://terabox.com/s/",
		"https://terabox.com/s/bad*token",
		"https://terabox.com.evil.net/s/abc",
		"https://evilterabox.com/s/abc",
		"ftp://terabox.com/s/abc",
		"not a url",
	} {
		if _, err := Canonicalize(in); !errors.Is(err, ErrInvalidLink) {
			t.Fatalf("Canonicalize(%q): expected ErrInvalidLink, got %v", in, err)
		}
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	for _, alias := range DefaultAliases {
		for _, host := range []string{alias, "www." + alias} {
			for _, in := range []string{
				"https://" + host + "/s/1Tok3n",
				"https://" + host + "/s/Tok3n",
				"http://https://" + host + "/s/1Tok3n?x=1",
				host + "/s/1Tok3n",
			} {
				first, err := Canonicalize(in)
				if err != nil {
					t.Fatalf("Canonicalize(%q): %v", in, err)
				}
				second, err := Canonicalize(first.URL)
				if err != nil {
					t.Fatalf("Canonicalize(%q): %v", first.URL, err)
				}
				if second != first {
					t.Fatalf("not idempotent for %q: %+v then %+v", in, first, second)
				}
			}
		}
	}
}

func TestCanonicalize_CanonicalInputKeepsPrefix(t *testing.T) {
	cases := []struct {
		in, token string
	}{
		{"https://1024terabox.com/s/1AbCdEf", "1AbCdEf"},
		{"https://1024terabox.com/s/1AbCdEf?foo=1", "AbCdEf"},
		{"https://www.1024terabox.com/s/1AbCdEf", "AbCdEf"},
		{"https://terabox.com/s/1AbCdEf", "AbCdEf"},
		{"https://1024terabox.com/s/AbCdEf", "AbCdEf"},
	}
	for _, tc := range cases {
		got, err := Canonicalize(tc.in)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", tc.in, err)
		}
		if got.Token != tc.token || got.URL != "https://1024terabox.com/s/"+tc.token {
			t.Fatalf("Canonicalize(%q): got %+v, want token %q", tc.in, got, tc.token)
		}
	}
}

func TestNew_CustomAuthority(t *testing.T) {
	c, err := New("share.example", []string{"mirror.example"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Canonicalize("https://www.mirror.example/s/1abc")
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if got.URL != "https://share.example/s/abc" {
		t.Fatalf("URL: got %q", got.URL)
	}
	if _, err := New(" ", nil); err == nil {
		t.Fatal("expected error for empty authority")
	}
}

func TestStripSpuriousPrefix(t *testing.T) {
	for in, want := range map[string]string{
		"1abc": "abc",
		"abc":  "abc",
		"1":    "1",
		"11ab": "1ab",
	} {
		if got := stripSpuriousPrefix(in); got != want {
			t.Fatalf("stripSpuriousPrefix(%q): got %q, want %q", in, got, want)
		}
	}
}
