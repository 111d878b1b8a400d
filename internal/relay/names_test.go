package relay

import (
	"context"
	"slices"
	"strings"
	"testing"
)

func TestStreamNameUsesEveryList(t *testing.T) {
	for i := 0; i < 50; i++ {
		words := strings.Split(streamName(), "-")
		if len(words) != 4 {
			t.Fatalf("streamName() words = %v", words)
		}
		for _, list := range [][]string{spirits, casks, notes, moods} {
			found := 0
			for _, w := range words {
				if slices.Contains(list, w) {
					found++
				}
			}
			if found == 0 {
				t.Fatalf("streamName() %v has no word from %v", words, list[:3])
			}
		}
	}
}

func TestNewStreamNameAvoidsLiveRooms(t *testing.T) {
	hub, _ := startHub(t)

	name, err := hub.NewStreamName(context.Background())
	if err != nil {
		t.Fatalf("NewStreamName() error = %v", err)
	}

	rooms, err := hub.Rooms(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rooms {
		if r.ID == name {
			t.Fatalf("NewStreamName() returned live room %q", name)
		}
	}
}
