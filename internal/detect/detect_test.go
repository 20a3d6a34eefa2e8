package detect

import (
	"testing"

	"github.com/bakkerme/channelwatch/internal/core"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name    string
		stored  string
		fetched string
		want    Decision
	}{
		{name: "same id skips", stored: "vid1", fetched: "vid1", want: Skip},
		{name: "different id notifies", stored: "vid1", fetched: "vid2", want: Notify},
		{name: "never notified announces current latest", stored: "", fetched: "vid1", want: Notify},
		{name: "older id still counts as change", stored: "vid2", fetched: "vid1", want: Notify},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.stored, core.LatestItem{ItemID: tc.fetched})
			if got != tc.want {
				t.Fatalf("Decide(%q, %q) = %v, want %v", tc.stored, tc.fetched, got, tc.want)
			}
		})
	}
}
