package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/abhitoshanand/portfolio/content"
	"github.com/abhitoshanand/portfolio/reveal"
)

const (
	helloTimeout = 10 * time.Second
	writeTimeout = 10 * time.Second
	maxMessage   = 4096
)

// clientMessage is sent by the page script.
type clientMessage struct {
	Type         string  `json:"type"` // hello, visibility, unmount
	Intersection bool    `json:"intersection"`
	Block        string  `json:"block"`
	Ratio        float64 `json:"ratio"`
}

// serverMessage is sent to the page script.
type serverMessage struct {
	Type      string   `json:"type"` // observe, reveal
	Block     string   `json:"block"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type socketWatch struct {
	fn func(float64)
}

// socketViewport is a reveal.Viewport fed by visibility messages from the
// browser. Only the session's read loop touches it.
type socketViewport struct {
	conn         *websocket.Conn
	intersection bool
	watches      map[string]*socketWatch
	err          error
}

func newSocketViewport(conn *websocket.Conn, intersection bool) *socketViewport {
	return &socketViewport{
		conn:         conn,
		intersection: intersection,
		watches:      make(map[string]*socketWatch),
	}
}

func (v *socketViewport) SupportsIntersection() bool {
	return v.intersection
}

func (v *socketViewport) Watch(blockID string, threshold float64, fn func(float64)) func() {
	w := &socketWatch{fn: fn}
	v.watches[blockID] = w
	v.send(serverMessage{Type: "observe", Block: blockID, Threshold: &threshold})
	return func() {
		if v.watches[blockID] == w {
			delete(v.watches, blockID)
		}
	}
}

func (v *socketViewport) dispatch(blockID string, ratio float64) {
	if w, ok := v.watches[blockID]; ok {
		w.fn(ratio)
	}
}

// send records the first write error; later sends are dropped.
func (v *socketViewport) send(msg serverMessage) {
	if v.err != nil {
		return
	}
	if err := v.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		v.err = err
		return
	}
	v.err = v.conn.WriteJSON(msg)
}

// handleViewport runs one page's reveal session. The browser says hello
// with its capabilities, the server observes every section, and each
// section is revealed once.
func (s *Server) handleViewport(c *gin.Context) {
	profile := c.GetString(profileKey)
	log := s.logger.With(zap.String("profile", profile))

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug("viewport upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessage)

	var hello clientMessage
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "hello" {
		log.Debug("viewport session without hello", zap.Error(err))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	vp := newSocketViewport(conn, hello.Intersection)
	coord := reveal.NewCoordinator(vp)
	defer coord.Close()

	for _, id := range content.Blocks() {
		id := id
		coord.Observe(id, s.cfg.Reveal.Threshold, func() {
			vp.send(serverMessage{Type: "reveal", Block: id})
			s.recordReveal(profile, id)
		})
	}

	for vp.err == nil {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("viewport session ended", zap.Error(err))
			}
			return
		}
		switch msg.Type {
		case "visibility":
			vp.dispatch(msg.Block, msg.Ratio)
		case "unmount":
			coord.Unobserve(msg.Block)
		default:
			log.Debug("unknown viewport message", zap.String("type", msg.Type))
		}
	}
	log.Debug("viewport write failed", zap.Error(vp.err))
}

func (s *Server) recordReveal(profile, block string) {
	if s.db == nil {
		return
	}
	if err := s.db.RecordReveal(profile, block); err != nil {
		s.logger.Warn("recording reveal", zap.String("block", block), zap.Error(err))
	}
}
