package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/mholzi/beatsy/internal/beatsy"
	"github.com/mholzi/beatsy/internal/transport"
)

const (
	logDate string = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

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

		written, err := w.Write([]byte("beatsy v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Version page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// randomSigningKey mints 32 random bytes from crypto/rand, hex-encoded, as
// the key for signing admin tokens when the operator hasn't supplied
// --jwt-signing-key.
func randomSigningKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
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

	logf(cfg, "START: beatsy v%s", releaseVersion)

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	if cfg.jwtSigningKey == "" {
		key, err := randomSigningKey()
		if err != nil {
			return fmt.Errorf("failed to generate admin token signing key: %w", err)
		}
		cfg.jwtSigningKey = key
	}

	if err := loadGameConfigSnapshot(cfg.configStore, &cfg.game); err != nil {
		return fmt.Errorf("failed to load config snapshot: %w", err)
	}

	// No real music service integration is wired in; the in-memory adapter
	// stands in so the engine is runnable. Its catalog is empty until a real
	// adapter is substituted in production deployment.
	adapter := beatsy.NewInMemoryAdapter(map[string][]beatsy.Song{}, nil)

	var coord *beatsy.Coordinator
	hub := beatsy.NewHub(func(playerName string) {
		coord.Dispatch(context.Background(), beatsy.SetConnected{Name: playerName, Connected: false})
	})
	coord = beatsy.NewCoordinator(cfg.game, adapter, hub)
	coord.Logf = func(format string, a...any) { logf(cfg, format, a...) }

	coordCtx, cancelCoord := context.WithCancel(ctx)
	defer cancelCoord()
	go hub.Run()
	go coord.Run(coordCtx)

	admin  := transport.NewAdminAuth([]byte(cfg.jwtSigningKey), cfg.adminSecretTTL)
	server := transport.NewServer(coord, hub, admin)
	server.Logf = func(format string, a...any) { logf(cfg, format, a...) }

	joinPath      := cfg.prefix + "/play"
	adminHandlers := transport.NewAdminHandlers(coord, admin, joinPath)
	if cfg.configStore != "" {
		adminHandlers.OnConfigPersist = func(gc beatsy.GameConfig) {
			if err := saveGameConfigSnapshot(cfg.configStore, gc); err != nil {
				logf(cfg, "ERROR: failed to persist config snapshot: %v", err)
			}
		}
	}

	mux := httprouter.New()

	srv := &http.Server{
		Addr: net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler: mux,
		IdleTimeout: 10 * time.Minute,
		ReadTimeout: timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout: timeout,
	}

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again."))
	}

	errs := make(chan error, 64)

	mux.GET(cfg.prefix+"/", serveHomePage(cfg))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, errs))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, errs))

	mux.GET(joinPath, server.ServeWS)

	adminHandlers.Register(mux, cfg.prefix)

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
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
			fmt.Printf("%s | ERROR: %v\n", time.Now().Format(logDate), err)
		}
	}()

	go func() {
		for err := range errs {
			log.Printf("%s | ERROR: %v", time.Now().Format(logDate), err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
