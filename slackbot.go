/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"strings"
	"time"

	"github.com/Seednode/towerbox/internal/slack"
	"github.com/Seednode/towerbox/internal/tower"
)

const (
	webParticipantPrefix = "web:"
	resultFilename       = "result.png"

	// Delay between opening additional socket mode connections.
	slackStagger = 2 * time.Second
)

// participantIcons looks up avatars for Slack users. Browser players have
// no avatar.
type participantIcons struct {
	client *slack.Client
}

func (p participantIcons) Icon(ctx context.Context, participant string) ([]byte, error) {
	if p.client == nil || strings.HasPrefix(participant, webParticipantPrefix) {
		return nil, nil
	}

	return p.client.Icon(ctx, participant)
}

type replyPoster interface {
	PostMessage(ctx context.Context, channel, text string) error
	PostImage(ctx context.Context, channel, text string, data []byte, filename string) error
}

// postReply sends a reply to a channel, attaching the snapshot when there
// is one. Replies to a specific player mention them.
func postReply(ctx context.Context, poster replyPoster, channel string, reply tower.Reply) error {
	text := reply.Text()
	if reply.Kind != tower.Welcome && reply.Participant != "" {
		text = slack.Mention(reply.Participant) + " " + text
	}

	if reply.HasImage() {
		return poster.PostImage(ctx, channel, text, reply.Image, resultFilename)
	}

	return poster.PostMessage(ctx, channel, text)
}

func slackHandler(cfg *Config, poster replyPoster, game *tower.Game) slack.Handler {
	return func(ctx context.Context, m slack.Message) {
		startTime := time.Now()

		reply, err := game.Play(ctx, tower.Request{
			Channel:     m.Channel,
			Participant: m.User,
			Text:        slack.StripMention(m.Text),
		})
		if err != nil {
			errorf(cfg, "ERROR: turn in %s: %v", m.Channel, err)

			if err := poster.PostMessage(ctx, m.Channel, slack.Mention(m.User)+" Something went wrong with that turn. Please try again."); err != nil {
				errorf(cfg, "ERROR: posting to %s: %v", m.Channel, err)
			}

			return
		}

		if err := postReply(ctx, poster, m.Channel, reply); err != nil {
			errorf(cfg, "ERROR: posting to %s: %v", m.Channel, err)

			return
		}

		logf(cfg, "SLACK: %s %s in %s (%s) in %s",
			m.Channel,
			reply.Kind,
			reply.Outcome,
			humanReadableSize(len(reply.Image)),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// serveSlack runs the socket mode listeners until ctx is cancelled.
func serveSlack(ctx context.Context, cfg *Config, client *slack.Client, game *tower.Game) {
	logf(cfg, "SLACK: Opening %d socket mode connection(s)", cfg.slackConnections)

	err := client.Serve(ctx, cfg.slackConnections, slackStagger, slackHandler(cfg, client, game))
	if err != nil && ctx.Err() == nil {
		errorf(cfg, "ERROR: slack: %v", err)
	}
}
