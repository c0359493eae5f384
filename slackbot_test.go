package main

import (
	"context"
	"testing"

	"github.com/Seednode/towerbox/internal/stage"
	"github.com/Seednode/towerbox/internal/tower"
)

type post struct {
	channel, text, filename string
	image                   []byte
}

type fakePoster struct {
	posts []post
}

func (f *fakePoster) PostMessage(_ context.Context, channel, text string) error {
	f.posts = append(f.posts, post{channel: channel, text: text})
	return nil
}

func (f *fakePoster) PostImage(_ context.Context, channel, text string, data []byte, filename string) error {
	f.posts = append(f.posts, post{channel: channel, text: text, image: data, filename: filename})
	return nil
}

func TestPostReply(t *testing.T) {
	tests := []struct {
		name     string
		reply    tower.Reply
		text     string
		hasImage bool
	}{
		{
			name:     "welcome",
			reply:    tower.Reply{Kind: tower.Welcome, Participant: "U1", Image: []byte("png")},
			text:     tower.Reply{Kind: tower.Welcome}.Text(),
			hasImage: true,
		},
		{
			name:     "turn",
			reply:    tower.Reply{Kind: tower.Turn, Participant: "U1", Outcome: stage.Success, Height: 1.234, Image: []byte("png")},
			text:     "<@U1> 1.23 m",
			hasImage: true,
		},
		{
			name:  "busy",
			reply: tower.Reply{Kind: tower.Busy, Participant: "U2"},
			text:  "<@U2> " + tower.Reply{Kind: tower.Busy}.Text(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakePoster{}
			if err := postReply(context.Background(), f, "C1", tt.reply); err != nil {
				t.Fatalf("postReply: %v", err)
			}
			if len(f.posts) != 1 {
				t.Fatalf("posts = %d", len(f.posts))
			}
			p := f.posts[0]
			if p.channel != "C1" || p.text != tt.text {
				t.Fatalf("post = %+v, want text %q", p, tt.text)
			}
			if tt.hasImage != (p.image != nil) {
				t.Fatalf("image = %q", p.image)
			}
			if tt.hasImage && p.filename != resultFilename {
				t.Fatalf("filename = %q", p.filename)
			}
		})
	}
}

func TestParticipantIconsSkipsWebPlayers(t *testing.T) {
	icons := participantIcons{}

	for _, participant := range []string{"U1", webParticipantPrefix + "abc"} {
		data, err := icons.Icon(context.Background(), participant)
		if err != nil || data != nil {
			t.Fatalf("Icon(%q) = %q, %v", participant, data, err)
		}
	}
}
