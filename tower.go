// Towerbox web client
//
// Every channel is a shared game that anyone with the link can play from a
// browser. Players type a position and a rotation; the turn runs through the
// same dispatcher the Slack bot uses and the snapshot is pushed to everyone
// watching the channel.
//
// Features:
// - WebSockets per channel: /tower/:channel and /tower/:channel/ws
// - Players identified by cookie (playerID), with a free-form display name
// - Results broadcast to every client; busy and invalid notices go only to the sender
// - Late joiners receive the latest snapshot
// - Hubs close when their game is reaped or the last client leaves
// - Random 8-char channel IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current channel, backed by go-qrcode
// - Score ledger lookups per channel at /tower/:channel/scores

package main

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/towerbox/internal/scores"
	"github.com/Seednode/towerbox/internal/session"
	"github.com/Seednode/towerbox/internal/tower"
)

const (
	webKeyPrefix  = "web/"
	maxNameLength = 32
)

// Messages coming from clients
type ClientMessage struct {
	Type string `json:"type"`           // "turn"
	Text string `json:"text,omitempty"` // "0.2 45"
	Name string `json:"name,omitempty"` // display name, remembered per connection
}

// ResultMessage is broadcast to every client of a channel.
type ResultMessage struct {
	Type    string `json:"type"` // "result"
	Kind    string `json:"kind"` // "welcome" or "turn"
	Outcome string `json:"outcome"`
	User    string `json:"user,omitempty"`
	Message string `json:"message"`
	Height  string `json:"height"`
	Image   string `json:"image"` // base64 PNG
}

// NoticeMessage is sent to a single client.
type NoticeMessage struct {
	Type    string `json:"type"` // "notice"
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
	name     string
}

type directMessage struct {
	client *Client
	msg    any
}

type Hub struct {
	id      string
	clients map[*Client]bool
	last    *ResultMessage

	register  chan *Client
	unreg     chan *Client
	broadcast chan any
	direct    chan directMessage

	done     chan struct{}
	doneOnce sync.Once

	// onEmpty runs on the hub goroutine when the last client leaves.
	onEmpty func(h *Hub)
}

func newHub(channel string, onEmpty func(h *Hub)) *Hub {
	return &Hub{
		id:        channel,
		clients:   make(map[*Client]bool),
		register:  make(chan *Client),
		unreg:     make(chan *Client),
		broadcast: make(chan any),
		direct:    make(chan directMessage),
		done:      make(chan struct{}),
		onEmpty:   onEmpty,
	}
}

func (h *Hub) run() {
	for {
		// A closed hub must not accept late joiners.
		select {
		case <-h.done:
			h.shutdown()
			return
		default:
		}

		select {
		case c := <-h.register:
			h.clients[c] = true
			if h.last != nil {
				h.deliver(c, *h.last)
			}

		case c := <-h.unreg:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			if len(h.clients) == 0 && h.onEmpty != nil {
				h.onEmpty(h)
			}

		case msg := <-h.broadcast:
			if r, ok := msg.(ResultMessage); ok {
				h.last = &r
			}
			for c := range h.clients {
				h.deliver(c, msg)
			}

		case dm := <-h.direct:
			if h.clients[dm.client] {
				h.deliver(dm.client, dm.msg)
			}

		case <-h.done:
			h.shutdown()
			return
		}
	}
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

// deliver drops clients that cannot keep up.
func (h *Hub) deliver(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// join reports false when the hub has already closed.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unreg <- c:
	case <-h.done:
	}
}

func (h *Hub) publish(msg any) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func (h *Hub) tell(c *Client, msg any) {
	select {
	case h.direct <- directMessage{client: c, msg: msg}:
	case <-h.done:
	}
}

// closeAll disconnects all clients of this hub and stops it.
func (h *Hub) closeAll() {
	h.doneOnce.Do(func() {
		close(h.done)
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "towerbox_id"

func getOrSetPlayerID(cfg *Config, w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		errorf(cfg, "ERROR: rand.Read: %v", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// HubManager holds a hub per channel, so each $path/$channel is its own
// shared game.
type HubManager struct {
	mu       sync.Mutex
	hubs     map[string]*Hub
	registry *session.Registry
}

func newHubManager(registry *session.Registry) *HubManager {
	hm := &HubManager{
		hubs:     make(map[string]*Hub),
		registry: registry,
	}
	registry.OnEvict(hm.evict)
	return hm
}

func (hm *HubManager) getHub(channel string) *Hub {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if hub, ok := hm.hubs[channel]; ok {
		return hub
	}

	hub := newHub(channel, hm.remove)
	hm.hubs[channel] = hub
	go hub.run()
	return hub
}

// remove drops an empty hub. It runs on the hub's own goroutine.
func (hm *HubManager) remove(h *Hub) {
	hm.mu.Lock()
	if hm.hubs[h.id] == h {
		delete(hm.hubs, h.id)
	}
	hm.mu.Unlock()

	h.closeAll()
}

// evict closes the hub of a reaped web game.
func (hm *HubManager) evict(key string) {
	channel, ok := strings.CutPrefix(key, webKeyPrefix)
	if !ok {
		return
	}

	hm.mu.Lock()
	hub, ok := hm.hubs[channel]
	if ok {
		delete(hm.hubs, channel)
	}
	hm.mu.Unlock()

	if ok {
		hub.closeAll()
	}
}

// newChannelID generates a crypto-random channel ID and ensures it doesn't
// collide with open hubs or running games.
func (hm *HubManager) newChannelID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		hm.mu.Lock()
		_, exists := hm.hubs[id]
		hm.mu.Unlock()

		if _, running := hm.registry.LastActivity(webKeyPrefix + id); !exists && !running {
			return id
		}
	}
}

// WebSocket handler that picks the hub based on :channel
func serveWSForManager(ctx context.Context, cfg *Config, hm *HubManager, game *tower.Game) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		channel := ps.ByName("channel")
		if channel == "" {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(cfg, w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errorf(cfg, "ERROR: websocket upgrade: %v", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		hub := hm.getHub(channel)
		for !hub.join(client) {
			hub = hm.getHub(channel)
		}

		logf(cfg, "GAMES: %s joined %s", realIP(r), channel)

		go client.writePump()
		client.readPump(ctx, cfg, hub, game)
	}
}

func (c *Client) readPump(ctx context.Context, cfg *Config, h *Hub, game *tower.Game) {
	defer func() {
		h.leave(c)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if name := cleanName(msg.Name); name != "" {
			c.name = name
		}

		switch msg.Type {
		case "turn":
			c.playTurn(ctx, cfg, h, game, msg.Text)
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) playTurn(ctx context.Context, cfg *Config, h *Hub, game *tower.Game, text string) {
	startTime := time.Now()

	reply, err := game.Play(ctx, tower.Request{
		Channel:     webKeyPrefix + h.id,
		Participant: webParticipantPrefix + c.playerID,
		Text:        text,
	})
	if err != nil {
		errorf(cfg, "ERROR: turn in %s: %v", h.id, err)
		h.tell(c, NoticeMessage{Type: "notice", Message: "Something went wrong with that turn. Please try again."})
		return
	}

	switch reply.Kind {
	case tower.Busy, tower.Invalid:
		h.tell(c, NoticeMessage{Type: "notice", Message: reply.Text()})
		return
	}

	h.publish(ResultMessage{
		Type:    "result",
		Kind:    reply.Kind.String(),
		Outcome: reply.Outcome.String(),
		User:    c.name,
		Message: reply.Text(),
		Height:  fmt.Sprintf("%.2f m", reply.Height),
		Image:   base64.StdEncoding.EncodeToString(reply.Image),
	})

	logf(cfg, "GAMES: %s %s in %s (%s) in %s",
		h.id,
		reply.Kind,
		reply.Outcome,
		humanReadableSize(len(reply.Image)),
		time.Since(startTime).Round(time.Microsecond),
	)
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if !utf8.ValidString(name) {
		return ""
	}
	if r := []rune(name); len(r) > maxNameLength {
		name = string(r[:maxNameLength])
	}
	return name
}

// QR handler: generates a PNG QR code for the current channel URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	channel := ps.ByName("channel")
	if channel == "" {
		http.Error(w, "missing channel", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:channel/qr; strip trailing "/qr" to get the channel URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

type scoresResponse struct {
	Best *scores.Game  `json:"best"`
	Top  []scores.Game `json:"top"`
}

func serveScores(cfg *Config, ledger *scores.Ledger, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		resp := scoresResponse{Top: []scores.Game{}}

		if ledger != nil {
			best, ok, err := ledger.Best(r.Context(), webKeyPrefix+ps.ByName("channel"))
			if err != nil {
				errs <- err
				http.Error(w, "score lookup failed", http.StatusInternalServerError)
				return
			}
			if ok {
				resp.Best = &best
			}

			top, err := ledger.Top(r.Context(), 10)
			if err != nil {
				errs <- err
				http.Error(w, "score lookup failed", http.StatusInternalServerError)
				return
			}
			if top != nil {
				resp.Top = top
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			errs <- err
		}
	}
}

//go:embed tower/index.html
var indexHTML []byte

//go:embed tower/app.css
var towerCSS []byte

//go:embed tower/app.js
var towerJS []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(cfg, w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getStaticHandler(cfg *Config, contentType string, data []byte) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(data)
	}
}

// redirectNewChannel handles GET /path by generating a new random channel ID
// (with server-side collision detection) and redirecting to /path/:channel.
func redirectNewChannel(cfg *Config, path string, hm *HubManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		channel := hm.newChannelID()
		logf(cfg, "GAMES: Created channel %s/%s", path, channel)
		http.Redirect(w, r, cfg.prefix+path+"/"+channel, http.StatusTemporaryRedirect)
	}
}

// registerTowerGame sets up routes so that:
//   - $path                     → redirects to new random channel (8-char ID)
//   - $path/:channel            → HTML client
//   - $path/:channel/ws         → WebSocket for that channel
//   - $path/:channel/qr         → PNG QR code for that channel URL
//   - $path/:channel/scores     → JSON best game for the channel and global top ten
func registerTowerGame(ctx context.Context, cfg *Config, path string, mux *httprouter.Router, game *tower.Game, registry *session.Registry, ledger *scores.Ledger, errs chan<- error) {
	hm := newHubManager(registry)

	mux.GET(cfg.prefix+path, redirectNewChannel(cfg, path, hm))

	mux.GET(cfg.prefix+path+"/:channel", getIndexHandler(cfg))

	mux.GET(cfg.prefix+"/assets/tower/app.css", getStaticHandler(cfg, "text/css; charset=utf-8", towerCSS))
	mux.GET(cfg.prefix+"/assets/tower/app.js", getStaticHandler(cfg, "application/javascript; charset=utf-8", towerJS))

	mux.GET(cfg.prefix+path+"/:channel/ws", serveWSForManager(ctx, cfg, hm, game))

	mux.GET(cfg.prefix+path+"/:channel/qr", qrHandler)

	mux.GET(cfg.prefix+path+"/:channel/scores", serveScores(cfg, ledger, errs))
}
