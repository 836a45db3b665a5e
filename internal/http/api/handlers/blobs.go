package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/echolog/echolog-server/internal/blob/local"
	"github.com/gin-gonic/gin"
)

// BlobHandler serves signed URLs issued by the local blob store.
type BlobHandler struct {
	store *local.Store
}

// NewBlobHandler constructs a BlobHandler.
func NewBlobHandler(store *local.Store) *BlobHandler {
	return &BlobHandler{store: store}
}

// Serve verifies the signature and streams the file.
func (h *BlobHandler) Serve(c *gin.Context) {
	ref := strings.TrimPrefix(c.Param("ref"), "/")
	if errVerify := h.store.Verify(ref, c.Query("expires"), c.Query("signature")); errVerify != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": errVerify.Error()})
		return
	}
	path, errPath := h.store.Path(ref)
	if errPath != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid blob reference"})
		return
	}
	if _, errStat := os.Stat(path); errStat != nil {
		if errors.Is(errStat, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "blob not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stat blob failed"})
		return
	}
	c.File(path)
}
