package scraper

import "testing"

func TestChannelUsername(t *testing.T) {
	cases := []struct {
		ref  string
		want string
	}{
		{"Chemed", "Chemed"},
		{"https://t.me/lobelia4cosmetics", "lobelia4cosmetics"},
		{"http://t.me/tikvahpharma", "tikvahpharma"},
		{"t.me/tikvahpharma/", "tikvahpharma"},
		{"@chemed", "chemed"},
		{"  Chemed  ", "Chemed"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := ChannelUsername(tc.ref); got != tc.want {
			t.Errorf("ChannelUsername(%q) = %q, want %q", tc.ref, got, tc.want)
		}
	}
}
