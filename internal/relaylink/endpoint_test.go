package relaylink

import "testing"

func TestEndpointFor(t *testing.T) {
	cases := []struct {
		page string
		want string
	}{
		{"https://chat.example/#ABCDsecret", "wss://chat.example/channel/ch1"},
		{"https://chat.example", "wss://chat.example/channel/ch1"},
		{"http://localhost:8080/rooms/index.html?x=1#frag", "ws://localhost:8080/rooms/channel/ch1"},
		{"https://chat.example/rooms/", "wss://chat.example/rooms/channel/ch1"},
		{"wss://relay.example/base/", "wss://relay.example/base/channel/ch1"},
		{"https://user:pw@chat.example/a", "wss://chat.example/channel/ch1"},
	}
	for _, tc := range cases {
		got, err := EndpointFor(tc.page, "ch1")
		if err != nil {
			t.Fatalf("EndpointFor(%q): %v", tc.page, err)
		}
		if got != tc.want {
			t.Fatalf("EndpointFor(%q)=%q, want %q", tc.page, got, tc.want)
		}
	}
}

func TestEndpointFor_Rejects(t *testing.T) {
	for _, page := range []string{"ftp://chat.example/", "chat.example/path", "https:///nohost", "://"} {
		if _, err := EndpointFor(page, "ch1"); err == nil {
			t.Fatalf("EndpointFor(%q): expected error", page)
		}
	}
	if _, err := EndpointFor("https://chat.example/", ""); err == nil {
		t.Fatalf("expected error for empty channel id")
	}
}
