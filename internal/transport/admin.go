package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/mholzi/beatsy/internal/beatsy"
)

// AdminAuth mints and validates short-lived JWTs that wrap the Coordinator's
// raw per-game admin secret, so the secret never travels over the wire on
// its own.
type AdminAuth struct {
	signingKey []byte
	ttl        time.Duration
}

func NewAdminAuth(signingKey []byte, ttl time.Duration) *AdminAuth {
	return &AdminAuth{signingKey: signingKey, ttl: ttl}
}

// IssueAdminToken wraps secret in a signed HS256 JWT valid for a.ttl.
func (a *AdminAuth) IssueAdminToken(secret string) (string, error) {
	claims := jwt.MapClaims{
		"secret": secret,
		"exp": time.Now().Add(a.ttl).Unix(),
		"iat": time.Now().Unix(),
	}
	token  := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.signingKey)
}

// ParseAdminToken validates signature and expiry and returns the wrapped
// admin secret.
func (a *AdminAuth) ParseAdminToken(tokenStr string) (string, error) {
	parsed, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return a.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid admin token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid admin token claims")
	}
	secret, ok := claims["secret"].(string)
	if !ok || secret == "" {
		return "", errors.New("admin token missing secret claim")
	}
	return secret, nil
}

// AdminHandlers serves the Admin HTTP Surface: a
// conventional request/response API distinct from the player WebSocket,
// used by the host's own admin screen.
type AdminHandlers struct {
	Coord *beatsy.Coordinator
	Auth  *AdminAuth

	// JoinPath is the public player-facing path (e.g. "/play") used to
	// build the invite URL encoded into the QR code.
	JoinPath string

	// OnConfigPersist, if set, is called with the live GameConfig after a
	// successful start_game so the Config Persistence Adapter can
	// snapshot it. Left nil when no --config-store was configured.
	OnConfigPersist func(beatsy.GameConfig)
}

func NewAdminHandlers(coord *beatsy.Coordinator, auth *AdminAuth, joinPath string) *AdminHandlers {
	return &AdminHandlers{Coord: coord, Auth: auth, JoinPath: joinPath}
}

// Register wires the admin surface's routes onto an httprouter.Router under
// the given path prefix.
func (h *AdminHandlers) Register(mux *httprouter.Router, prefix string) {
	mux.GET(prefix+"/admin/media_players", h.mediaPlayers)
	mux.POST(prefix+"/admin/validate_playlist", h.validatePlaylist)
	mux.POST(prefix+"/admin/start_game", h.startGame)
	mux.POST(prefix+"/admin/next_song", h.nextSong)
	mux.POST(prefix+"/admin/reset_game", h.resetGame)
	mux.GET(prefix+"/admin/invite", h.invite)
	mux.GET(prefix+"/admin/status", h.status)
}

func (h *AdminHandlers) mediaPlayers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	targets, err := h.Coord.ListPlaybackTargets(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets})
}

type validatePlaylistRequest struct {
	PlaylistID string `json:"playlist_id"`
}

func (h *AdminHandlers) validatePlaylist(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req validatePlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlaylistID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "playlist_id required"})
		return
	}

	size, skipped, err := h.Coord.ValidatePlaylist(r.Context(), req.PlaylistID)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_size": size, "skipped_tracks": skipped})
}

type startGameRequest struct {
	Config *beatsy.GameConfig `json:"config,omitempty"`
}

func (h *AdminHandlers) startGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req startGameRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	res := h.Coord.Dispatch(r.Context(), beatsy.StartGame{IsAdmin: true, ConfigOverride: req.Config})
	if res.Err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": res.Err.Message, "code": res.Err.Code})
		return
	}

	token, err := h.Auth.IssueAdminToken(res.AdminSecret)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to issue admin token"})
		return
	}

	if h.OnConfigPersist != nil {
		h.OnConfigPersist(res.Config)
	}

	writeJSON(w, http.StatusOK, map[string]any{"admin_token": token, "status": res.Status})
}

func (h *AdminHandlers) nextSong(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	res := h.Coord.Dispatch(r.Context(), beatsy.NextSong{IsAdmin: true})
	if res.Err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": res.Err.Message, "code": res.Err.Code})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *AdminHandlers) resetGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	res := h.Coord.Dispatch(r.Context(), beatsy.StopGame{IsAdmin: true})
	if res.Err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": res.Err.Message, "code": res.Err.Code})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *AdminHandlers) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	res := h.Coord.Dispatch(r.Context(), beatsy.GetStatus{})
	writeJSON(w, http.StatusOK, res.Status)
}

// invite renders a PNG QR code for the player join URL.
func (h *AdminHandlers) invite(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	url := scheme + "://" + r.Host + strings.TrimSuffix(h.JoinPath, "/")

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
