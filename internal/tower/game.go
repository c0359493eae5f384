/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package tower turns chat commands into stage turns. It owns the flow
// around a single turn: take the channel's lease, start a game when none is
// running, fetch the participant's icon, parse the command, run the turn and
// retire the game when it ends.
package tower

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Seednode/towerbox/internal/physics"
	"github.com/Seednode/towerbox/internal/scores"
	"github.com/Seednode/towerbox/internal/session"
	"github.com/Seednode/towerbox/internal/shapes"
	"github.com/Seednode/towerbox/internal/stage"
)

// Profiles fetches a participant's avatar image.
type Profiles interface {
	Icon(ctx context.Context, participant string) ([]byte, error)
}

// Ledger stores finished games.
type Ledger interface {
	Record(ctx context.Context, g scores.Game) error
}

type Request struct {
	Channel     string
	Participant string
	Text        string
}

type Option func(*Game)

func WithProfiles(p Profiles) Option {
	return func(g *Game) {
		g.profiles = p
	}
}

func WithLedger(l Ledger) Option {
	return func(g *Game) {
		g.ledger = l
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Game) {
		g.logger = l
	}
}

// WithWorlds replaces the physics world factory used for new games.
func WithWorlds(fn func() stage.World) Option {
	return func(g *Game) {
		g.newWorld = fn
	}
}

type Game struct {
	registry *session.Registry
	catalog  *shapes.Catalog
	renderer stage.Renderer

	newWorld func() stage.World
	profiles Profiles
	ledger   Ledger
	logger   *zap.Logger
	now      func() time.Time
}

func New(registry *session.Registry, catalog *shapes.Catalog, renderer stage.Renderer, opts ...Option) *Game {
	g := &Game{
		registry: registry,
		catalog:  catalog,
		renderer: renderer,
		newWorld: func() stage.World {
			return physics.NewWorld(physics.DefaultConfig())
		},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Play runs one request against its channel.
//
// Contention and unparseable commands are replies, not errors. Errors come
// from collaborators (icon fetch, rendering) and leave the channel's game as
// it was.
func (g *Game) Play(ctx context.Context, req Request) (Reply, error) {
	lease, ok := g.registry.Acquire(req.Channel)
	if !ok {
		return Reply{Kind: Busy, Participant: req.Participant}, nil
	}
	defer lease.Release()

	logger := g.logger.With(zap.String("channel", req.Channel))

	st := lease.Stage()
	if st == nil {
		st = stage.New(g.catalog, g.newWorld(), g.renderer, stage.WithLogger(logger))

		res, err := st.NextTurn("", 0, 0)
		if err != nil {
			return Reply{}, fmt.Errorf("start game in %s: %w", req.Channel, err)
		}

		lease.SetStage(st)
		lease.Touch()
		logger.Info("game started", zap.Stringer("stage", st.ID()))

		return Reply{
			Kind:        Welcome,
			Participant: req.Participant,
			Outcome:     res.Outcome,
			Height:      res.Height,
			Image:       res.Image,
		}, nil
	}

	if g.profiles != nil && req.Participant != "" && !st.HasIcon(req.Participant) {
		icon, err := g.profiles.Icon(ctx, req.Participant)
		if err != nil {
			return Reply{}, fmt.Errorf("fetch icon for %s: %w", req.Participant, err)
		}
		if len(icon) > 0 {
			st.SetIcon(req.Participant, icon)
		}
	}

	offset, degrees, err := ParseInput(req.Text)
	if err != nil {
		return Reply{Kind: Invalid, Participant: req.Participant}, nil
	}

	res, err := st.NextTurn(req.Participant, offset, degrees)
	if err != nil {
		return Reply{}, fmt.Errorf("turn in %s: %w", req.Channel, err)
	}

	logger.Info("turn played",
		zap.String("participant", req.Participant),
		zap.Stringer("outcome", res.Outcome),
		zap.Float64("height", res.Height),
	)

	if res.Outcome != stage.Success {
		g.record(ctx, logger, req.Channel, st, res.Outcome)
		lease.ClearStage()
	}
	lease.Touch()

	return Reply{
		Kind:        Turn,
		Participant: req.Participant,
		Outcome:     res.Outcome,
		Height:      res.Height,
		Image:       res.Image,
	}, nil
}

// record stores the finished game. A ledger failure is logged and does
// not fail the turn, whose result has already been computed.
func (g *Game) record(ctx context.Context, logger *zap.Logger, channel string, st *stage.Stage, outcome stage.Outcome) {
	if g.ledger == nil {
		return
	}

	err := g.ledger.Record(ctx, scores.Game{
		ID:        st.ID().String(),
		Channel:   channel,
		Outcome:   outcome.String(),
		Height:    st.BestHeight(),
		Turns:     st.Turns(),
		StartedAt: st.CreatedAt(),
		EndedAt:   g.now(),
	})
	if err != nil {
		logger.Warn("recording finished game", zap.Error(err))
	}
}
