/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"image"
	"image/png"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/fogleman/gg"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/towerbox/internal/physics"
	"github.com/Seednode/towerbox/internal/shapes"
	"github.com/Seednode/towerbox/internal/stage"
)

const faviconSize = 96

func getFavicon() string {
	return `<link rel="icon" type="image/png" sizes="96x96" href="/favicon.png">
	<meta name="theme-color" content="#ffffff">`
}

// newFavicon plays a short fixed game and shrinks its snapshot to an icon.
func newFavicon(catalog *shapes.Catalog, renderer stage.Renderer) ([]byte, error) {
	st := stage.New(catalog, physics.NewWorld(physics.DefaultConfig()), renderer,
		stage.WithRand(rand.New(rand.NewPCG(1, 2))),
	)

	res, err := st.NextTurn("", 0, 0)
	if err != nil {
		return nil, err
	}
	for _, degrees := range []float64{90, 0} {
		next, err := st.NextTurn("", 0, degrees)
		if err != nil {
			return nil, err
		}
		if next.Outcome != stage.Success {
			break
		}
		res = next
	}

	img, err := png.Decode(bytes.NewReader(res.Image))
	if err != nil {
		return nil, err
	}

	return shrink(img, faviconSize)
}

// shrink scales the centre square of img down to size x size.
func shrink(img image.Image, size int) ([]byte, error) {
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())

	dc := gg.NewContext(size, size)
	dc.Scale(float64(size)/float64(side), float64(size)/float64(side))
	dc.DrawImageAnchored(img, side/2, side/2, 0.5, 0.5)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func serveFavicon(cfg *Config, data []byte, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Header().Set("Expires", time.Now().Add(24*time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		_, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}
	}
}
