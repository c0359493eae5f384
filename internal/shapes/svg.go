package shapes

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Seednode/towerbox/internal/geom"
)

// LoadSVG reads every <path> and <polygon> outside <defs> as one outline.
// Curve segments contribute only their end point and element transforms
// are ignored.
func LoadSVG(path string, opts Options) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := parseSVG(raw, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func parseSVG(raw []byte, opts Options) (*Catalog, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	b := &builder{opts: opts}
	defs := 0

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "defs" {
				defs++
				continue
			}
			if defs > 0 {
				continue
			}

			var (
				o    geom.Outline
				perr error
			)
			switch el.Name.Local {
			case "path":
				o, perr = parsePathData(attr(el, "d"))
			case "polygon":
				o, perr = parsePoints(attr(el, "points"))
			default:
				continue
			}

			name := attr(el, "id")
			if name == "" {
				name = fmt.Sprintf("%s-%d", el.Name.Local, len(b.names))
			}
			if perr != nil {
				return nil, fmt.Errorf("shape %q: %w", name, perr)
			}
			if err := b.add(name, o); err != nil {
				return nil, err
			}

		case xml.EndElement:
			if el.Name.Local == "defs" && defs > 0 {
				defs--
			}
		}
	}

	return b.catalog()
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func parsePoints(s string) (geom.Outline, error) {
	nums, err := parseNumbers(strings.NewReplacer(",", " ").Replace(s))
	if err != nil {
		return nil, err
	}
	if len(nums)%2 != 0 {
		return nil, fmt.Errorf("odd number of coordinates in %q", s)
	}

	o := make(geom.Outline, 0, len(nums)/2)
	for i := 0; i < len(nums); i += 2 {
		o = append(o, geom.Point{X: nums[i], Y: nums[i+1]})
	}
	return o, nil
}

func parseNumbers(s string) ([]float64, error) {
	var out []float64
	for _, f := range strings.Fields(s) {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// number of arguments consumed per segment, and the offset of the end point
var pathArity = map[byte][2]int{
	'M': {2, 0}, 'L': {2, 0}, 'T': {2, 0},
	'H': {1, 0}, 'V': {1, 0},
	'C': {6, 4}, 'S': {4, 2}, 'Q': {4, 2},
	'A': {7, 5},
	'Z': {0, 0},
}

func parsePathData(d string) (geom.Outline, error) {
	toks, err := tokenizePath(d)
	if err != nil {
		return nil, err
	}

	var (
		o     geom.Outline
		cur   geom.Point
		start geom.Point
		cmd   byte
	)

	for i := 0; i < len(toks); {
		if toks[i].cmd != 0 {
			cmd = toks[i].cmd
			i++
		} else if cmd == 0 {
			return nil, fmt.Errorf("expected a path command at token %d", i)
		}

		upper := cmd &^ 0x20
		relative := cmd != upper
		arity, ok := pathArity[upper]
		if !ok {
			return nil, fmt.Errorf("unsupported path command %q", cmd)
		}

		if upper == 'Z' {
			cur = start
			cmd = 0
			continue
		}

		if i+arity[0] > len(toks) {
			return nil, fmt.Errorf("command %q needs %d arguments", cmd, arity[0])
		}
		args := make([]float64, arity[0])
		for j := range args {
			if toks[i+j].cmd != 0 {
				return nil, fmt.Errorf("command %q needs %d arguments", cmd, arity[0])
			}
			args[j] = toks[i+j].num
		}
		i += arity[0]

		var next geom.Point
		switch upper {
		case 'H':
			next = geom.Point{X: args[0], Y: cur.Y}
			if relative {
				next.X += cur.X
			}
		case 'V':
			next = geom.Point{X: cur.X, Y: args[0]}
			if relative {
				next.Y += cur.Y
			}
		default:
			next = geom.Point{X: args[arity[1]], Y: args[arity[1]+1]}
			if relative {
				next = next.Add(cur)
			}
		}

		if upper == 'M' {
			start = next
			// extra coordinate pairs after a moveto are implicit linetos
			if relative {
				cmd = 'l'
			} else {
				cmd = 'L'
			}
		}

		cur = next
		if n := len(o); n == 0 || o[n-1] != next {
			o = append(o, next)
		}
	}

	if n := len(o); n > 1 && o[0] == o[n-1] {
		o = o[:n-1]
	}

	return o, nil
}

type pathToken struct {
	cmd byte
	num float64
}

func tokenizePath(d string) ([]pathToken, error) {
	var toks []pathToken

	for i := 0; i < len(d); {
		c := d[i]
		switch {
		case c == ' ' || c == ',' || c == '\t' || c == '\n' || c == '\r':
			i++
		case (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z'):
			if c == 'e' || c == 'E' {
				return nil, fmt.Errorf("unexpected exponent at offset %d", i)
			}
			toks = append(toks, pathToken{cmd: c})
			i++
		default:
			j := scanNumber(d, i)
			if j == i {
				return nil, fmt.Errorf("unexpected %q at offset %d", c, i)
			}
			v, err := strconv.ParseFloat(d[i:j], 64)
			if err != nil {
				return nil, err
			}
			toks = append(toks, pathToken{num: v})
			i = j
		}
	}

	return toks, nil
}

// scanNumber returns the end of the number starting at i. SVG allows
// numbers to run together, as in "10-5" or "1.5.5".
func scanNumber(s string, i int) int {
	j := i
	if j < len(s) && (s[j] == '+' || s[j] == '-') {
		j++
	}
	dot := false
	digits := false
	for j < len(s) {
		c := s[j]
		if c >= '0' && c <= '9' {
			digits = true
			j++
			continue
		}
		if c == '.' && !dot {
			dot = true
			j++
			continue
		}
		break
	}
	if !digits {
		return i
	}
	if j < len(s) && (s[j] == 'e' || s[j] == 'E') {
		k := j + 1
		if k < len(s) && (s[k] == '+' || s[k] == '-') {
			k++
		}
		start := k
		for k < len(s) && s[k] >= '0' && s[k] <= '9' {
			k++
		}
		if k > start {
			j = k
		}
	}
	return j
}
