package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

// RegisterPages serves the bundled browser client from staticDir: the
// login page at "/", the chat page at "/chat_page" and assets under
// "/static". Nothing is registered when staticDir does not exist.
func RegisterPages(router gin.IRouter, staticDir string) bool {
	if info, err := os.Stat(staticDir); err != nil || !info.IsDir() {
		return false
	}

	router.Static("/static", staticDir)
	router.GET("/", servePage(filepath.Join(staticDir, "login.html"), "<h1>Login page not found</h1>"))
	router.GET("/chat_page", servePage(filepath.Join(staticDir, "chat.html"), "<h1>Chat page not found</h1>"))
	return true
}

func servePage(path, fallback string) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := os.ReadFile(path)
		if err != nil {
			c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fallback))
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", data)
	}
}
