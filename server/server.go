// Package server serves the portfolio page, the theme API, the viewport
// WebSocket and the admin console.
package server

import (
	"crypto/rand"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/abhitoshanand/portfolio/config"
	"github.com/abhitoshanand/portfolio/content"
	"github.com/abhitoshanand/portfolio/reveal"
	"github.com/abhitoshanand/portfolio/storage"
	"github.com/abhitoshanand/portfolio/theme"
)

//go:embed templates static
var assets embed.FS

const (
	profileKey    = "profile"
	profileMaxAge = 365 * 24 * 3600
)

// Options wires a Server. DB may be nil, in which case preferences live in
// memory and the admin console has no statistics.
type Options struct {
	Config  *config.Config
	Content *content.Source
	Themes  *theme.Registry
	DB      *storage.DB
	Logger  *zap.Logger
}

type Server struct {
	cfg      *config.Config
	content  *content.Source
	themes   *theme.Registry
	db       *storage.DB
	logger   *zap.Logger
	upgrader websocket.Upgrader

	adminToken  string
	hashingSalt string

	// background visitor writes
	bg sync.WaitGroup
}

// New builds a Server. The admin token and IP hashing salt are fresh for
// every process.
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Content == nil || opts.Themes == nil {
		return nil, fmt.Errorf("server: config, content and themes are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generating admin token: %w", err)
	}
	salt, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generating hashing salt: %w", err)
	}

	return &Server{
		cfg:     opts.Config,
		content: opts.Content,
		themes:  opts.Themes,
		db:      opts.DB,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		adminToken:  token,
		hashingSalt: salt,
	}, nil
}

// Engine builds the gin engine with every route registered.
func (s *Server) Engine() (*gin.Engine, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(assets, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	static, err := fs.Sub(assets, "static")
	if err != nil {
		return nil, fmt.Errorf("static assets: %w", err)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	r.SetHTMLTemplate(tmpl)
	r.StaticFS("/static", http.FS(static))

	r.GET("/healthz", s.handleHealth)

	site := r.Group("/")
	site.Use(s.visitorTrackingMiddleware(), s.profileMiddleware())
	site.GET("/", s.handleIndex)
	site.GET("/theme", s.handleTheme)
	site.POST("/theme/toggle", s.handleToggle)
	site.GET("/ws/viewport", s.handleViewport)

	s.setupAdminRoutes(r)

	return r, nil
}

// Wait blocks until background visitor writes have finished.
func (s *Server) Wait() {
	s.bg.Wait()
}

var templateFuncs = template.FuncMap{
	"fadeIn": func(dir string, delay, duration float64) reveal.Variant {
		return reveal.FadeIn(reveal.Animation{
			Direction:       reveal.Direction(dir),
			DelaySeconds:    delay,
			DurationSeconds: duration,
		})
	},
	"stagger": func(dir string, delay float64, index int, step, duration float64) reveal.Variant {
		base := reveal.Animation{
			Direction:       reveal.Direction(dir),
			DelaySeconds:    delay,
			DurationSeconds: duration,
		}
		return reveal.FadeIn(reveal.Stagger(base, index, step))
	},
}

// handleHealth reports 503 when the database stops answering. Running
// without a database at all is a supported mode and stays healthy.
func (s *Server) handleHealth(c *gin.Context) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			s.logger.Warn("health check: database unavailable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleIndex(c *gin.Context) {
	isDark := s.controller(c).Current()

	c.Header("Accept-CH", "Sec-CH-Prefers-Color-Scheme")
	c.Header("Critical-CH", "Sec-CH-Prefers-Color-Scheme")
	c.Header("Vary", "Sec-CH-Prefers-Color-Scheme")
	c.Header("Cache-Control", "no-store")
	c.HTML(http.StatusOK, "index.html", gin.H{
		"profile":   s.content.Current(),
		"isDark":    isDark,
		"theme":     theme.Name(isDark),
		"threshold": s.cfg.Reveal.Threshold,
	})
}

type themeResponse struct {
	IsDark bool   `json:"isDark"`
	Theme  string `json:"theme"`
}

func (s *Server) handleTheme(c *gin.Context) {
	isDark := s.controller(c).Current()
	c.JSON(http.StatusOK, themeResponse{IsDark: isDark, Theme: theme.Name(isDark)})
}

// handleToggle answers JSON to scripts and redirects plain form posts back
// to the page.
func (s *Server) handleToggle(c *gin.Context) {
	ctrl := s.controller(c)
	isDark := ctrl.Toggle()
	s.logger.Debug("theme toggled",
		zap.String("profile", c.GetString(profileKey)),
		zap.String("theme", theme.Name(isDark)),
		zap.Bool("persistent", ctrl.Persistent()))

	if c.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML) == gin.MIMEHTML {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	c.JSON(http.StatusOK, themeResponse{IsDark: isDark, Theme: theme.Name(isDark)})
}

func (s *Server) controller(c *gin.Context) *theme.Controller {
	return s.themes.Controller(c.GetString(profileKey), s.defaultDark(c))
}

// defaultDark prefers the browser's colour scheme hint over configuration.
func (s *Server) defaultDark(c *gin.Context) bool {
	hint := strings.ToLower(strings.Trim(c.GetHeader("Sec-CH-Prefers-Color-Scheme"), `" `))
	switch hint {
	case "dark":
		return true
	case "light":
		return false
	}
	return s.cfg.DefaultDark()
}

// profileMiddleware identifies the browser with a long-lived cookie.
func (s *Server) profileMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(s.cfg.Theme.Cookie)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(s.cfg.Theme.Cookie, id, profileMaxAge, "/", "", false, true)
		c.Set(profileKey, id)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
