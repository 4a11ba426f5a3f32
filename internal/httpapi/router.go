// Package httpapi wires the bridge's HTTP entry points (component F,
// spec §4.6) onto a gin engine: the info page, /open, /save, and /list.
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/cs3org/wopibridge/internal/bridge"
)

// NewRouter builds the gin engine serving b's HTTP surface under
// b.Config.AppRoot.
func NewRouter(b *bridge.Bridge) *gin.Engine {
	engine := gin.New()
	engine.Use(recoveryMiddleware, requestIDMiddleware)

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "X-EFSS-Metadata", "X-Request-Id")
	engine.Use(cors.New(corsCfg))

	h := &Handlers{Bridge: b}

	engine.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, b.Config.AppRoot+"/")
	})

	root := engine.Group(b.Config.AppRoot)
	root.GET("/", h.Index)
	root.GET("/open", h.Open)
	root.POST("/save", h.Save)
	root.GET("/list", h.List)

	return engine
}
