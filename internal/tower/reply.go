package tower

import (
	"fmt"

	"github.com/Seednode/towerbox/internal/stage"
)

type Kind int

const (
	// Welcome carries the snapshot of a freshly started game.
	Welcome Kind = iota + 1
	// Turn carries the outcome of a dropped object.
	Turn
	// Busy means another turn was running on the channel; nothing changed.
	Busy
	// Invalid means the command could not be parsed; nothing changed.
	Invalid
)

func (k Kind) String() string {
	switch k {
	case Welcome:
		return "welcome"
	case Turn:
		return "turn"
	case Busy:
		return "busy"
	case Invalid:
		return "invalid"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

const welcomeText = "Welcome to Tower Battle!\n" +
	"Stack the objects together and build as high as you can.\n\n" +
	"How to play: send a horizontal position (-1 to 1) and a rotation in degrees " +
	"(-180 to 180, clockwise is positive).\n" +
	"Example: `-0.25 45`"

type Reply struct {
	Kind        Kind
	Participant string

	// Set for Welcome and Turn.
	Outcome stage.Outcome
	Height  float64
	Image   []byte
}

// HasImage reports whether the reply carries a snapshot to post.
func (r Reply) HasImage() bool {
	return len(r.Image) > 0
}

// Text is the human readable message for the reply.
func (r Reply) Text() string {
	switch r.Kind {
	case Welcome:
		return welcomeText
	case Busy:
		return "A turn is being calculated right now. Try again once its result is posted."
	case Invalid:
		return "Invalid input. " + capitalize(ErrInvalidInput.Error()) + ", for example `0.2 45`."
	case Turn:
		switch r.Outcome {
		case stage.Success:
			return fmt.Sprintf("%.2f m", r.Height)
		case stage.Failure:
			return "Game over!"
		case stage.Timeout:
			return "The physics simulation timed out. Starting over."
		}
	}
	return ""
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
