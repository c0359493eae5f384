package tower

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidInput = errors.New("expected an offset between -1 and 1 and a rotation between -180 and 180 degrees")

// ParseInput reads a turn command of exactly two numbers: the horizontal
// offset and the clockwise rotation in degrees.
func ParseInput(text string) (offset, degrees float64, err error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return 0, 0, ErrInvalidInput
	}

	offset, err = strconv.ParseFloat(fields[0], 64)
	if err != nil || !finite(offset) || offset < -1 || offset > 1 {
		return 0, 0, ErrInvalidInput
	}

	degrees, err = strconv.ParseFloat(fields[1], 64)
	if err != nil || !finite(degrees) || degrees < -180 || degrees > 180 {
		return 0, 0, ErrInvalidInput
	}

	return offset, degrees, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
