package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/towerbox/internal/render"
	"github.com/Seednode/towerbox/internal/scores"
	"github.com/Seednode/towerbox/internal/session"
	"github.com/Seednode/towerbox/internal/shapes"
	"github.com/Seednode/towerbox/internal/slack"
	"github.com/Seednode/towerbox/internal/tower"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:; style-src 'self' 'unsafe-inline'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func serveVersion(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("towerbox v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Version page (%s) to %s in %s",
			humanReadableSize(written),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// loadCatalog reads the shape catalog named by --shapes, or the built-in
// shapes when none is given.
func loadCatalog(cfg *Config) (*shapes.Catalog, error) {
	opts := shapes.Options{Scale: cfg.shapeScale, Mirror: cfg.mirrorShapes}

	switch ext := strings.ToLower(filepath.Ext(cfg.shapes)); {
	case cfg.shapes == "":
		return shapes.Default(opts)
	case ext == ".svg":
		return shapes.LoadSVG(cfg.shapes, opts)
	case ext == ".yaml" || ext == ".yml":
		return shapes.LoadYAML(cfg.shapes, opts)
	default:
		return nil, fmt.Errorf("unsupported shape catalog %q (want .yaml, .yml or .svg)", cfg.shapes)
	}
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: towerbox v%s", releaseVersion)

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	logf(cfg, "START: Loaded %d shapes", catalog.Len())

	renderer := render.New(cfg.logger.Named("render"))

	favicon, err := newFavicon(catalog, renderer)
	if err != nil {
		return fmt.Errorf("render favicon: %w", err)
	}

	registry := session.NewRegistry(session.Config{
		IdleTimeout:  cfg.sessionTimeout,
		ReapInterval: cfg.reapInterval,
	}, cfg.logger.Named("session"))

	go registry.Run(ctx)

	var slackClient *slack.Client
	if cfg.slackEnabled() {
		slackClient = slack.New(cfg.slackAppToken, cfg.slackBotToken, cfg.logger.Named("slack"))
	}

	opts := []tower.Option{
		tower.WithLogger(cfg.logger.Named("tower")),
		tower.WithProfiles(participantIcons{client: slackClient}),
	}

	var ledger *scores.Ledger
	if cfg.database != "" {
		ledger, err = scores.Open(cfg.database)
		if err != nil {
			return err
		}
		defer ledger.Close()

		opts = append(opts, tower.WithLedger(ledger))

		logf(cfg, "START: Recording finished games to %s", cfg.database)
	}

	game := tower.New(registry, catalog, renderer, opts...)

	mux := httprouter.New()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		errorf(cfg, "ERROR: panic serving %s: %v", r.URL.Path, i)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again.", cfg.prefix+"/"))
	}

	errs := make(chan error, 64)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				errorf(cfg, "ERROR: %v", err)
			}
		}
	}()

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	mux.GET(cfg.prefix+"/", serveHomePage(cfg, "/tower", errs))

	mux.GET(cfg.prefix+"/favicon.png", serveFavicon(cfg, favicon, errs))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, errs))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, errs))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	registerTowerGame(ctx, cfg, "/tower", mux, game, registry, ledger, errs)

	if slackClient != nil {
		go serveSlack(ctx, cfg, slackClient, game)
	}

	go func() {
		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorf(cfg, "ERROR: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
