package ipc

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/go-while/go-overchan-nntpd/internal/store"
)

// AdminServer is the loopback-only HTTP admin endpoint: a minimal status
// and newsgroup listing surface, not a full web frontend (that remains a
// separate collaborator process talking to the IPC bridge). Bound to
// 127.0.0.1 only — it is never meant to be reachable off-box.
type AdminServer struct {
	Store    *store.Store
	Instance string
	router   *gin.Engine
}

// NewAdminServer builds the gin router with the same security-header
// middleware stack used elsewhere in this family of services.
func NewAdminServer(st *store.Store, instance string) *AdminServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	router.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	router.Use(secure.New(secure.Config{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	s := &AdminServer{Store: st, Instance: instance, router: router}
	s.setupRoutes()
	return s
}

func (s *AdminServer) setupRoutes() {
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/newsgroups", s.handleNewsgroups)
}

func (s *AdminServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"instance": s.Instance,
	})
}

func (s *AdminServer) handleNewsgroups(c *gin.Context) {
	groups, err := s.Store.GetAllGroups()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	type groupInfo struct {
		Name  string `json:"name"`
		Count int64  `json:"count"`
		Low   int64  `json:"low"`
		High  int64  `json:"high"`
	}
	infos := make([]groupInfo, 0, len(groups))
	for _, g := range groups {
		count, low, high := s.Store.GetGroupInfo(g)
		infos = append(infos, groupInfo{Name: g, Count: count, Low: low, High: high})
	}
	c.JSON(http.StatusOK, infos)
}

// ListenAndServe binds to 127.0.0.1:port and serves until the process
// exits or the listener fails.
func (s *AdminServer) ListenAndServe(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	return s.router.Run(addr)
}
