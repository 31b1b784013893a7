package session

import "testing"

func TestOrigin(t *testing.T) {
	tests := []struct {
		url, origin string
		err         error
	}{
		{"https://example.org/app/?x=1", "https://example.org", nil},
		{"http://localhost:8001/demo/", "http://localhost:8001", nil},
		{"https://example.org", "https://example.org", nil},
		{"ftp://example.org/", "", ErrInvalidURL},
		{"example.org/app", "", ErrInvalidURL},
		{"https:///path", "", ErrInvalidURL},
	}
	for _, tt := range tests {
		origin, err := Origin(tt.url)
		if origin != tt.origin || err != tt.err {
			t.Errorf("%q: have %q %v, want %q %v", tt.url, origin, err, tt.origin, tt.err)
		}
	}
}

func TestFragments(t *testing.T) {
	url := "https://0x5543707cc4520f3984656e8edea6527ca474e77b.ethers.space/#/tab"
	fragment, err := EncodeFragment(url)
	if err != nil {
		t.Fatal(err)
	}
	if fragment != "#!/app-link/0x5543707cc4520f3984656e8edea6527ca474e77b.ethers.space/%23/tab" {
		t.Fatalf("fragment: %q", fragment)
	}
	back, err := DecodeFragment(fragment)
	if err != nil || back != url {
		t.Fatalf("decoded: %q %v", back, err)
	}

	if _, err := EncodeFragment("http://insecure.example.org/"); err != ErrInvalidURL {
		t.Fatalf("insecure url: %v", err)
	}
	for _, bad := range []string{"", "#!/app/foo", "#!/app-link/", "app-link/x"} {
		if _, err := DecodeFragment(bad); err != ErrInvalidFragment {
			t.Errorf("%q: have %v, want %v", bad, err, ErrInvalidFragment)
		}
	}

	for in, want := range map[string]string{
		"#!/app-link/example.org/": "https://example.org/",
		"http://localhost/":        "http://localhost/",
	} {
		if got, err := ResolveApp(in); err != nil || got != want {
			t.Errorf("%q: have %q %v, want %q", in, got, err, want)
		}
	}
}
