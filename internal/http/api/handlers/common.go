package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/echolog/echolog-server/internal/apperr"
	httpx "github.com/echolog/echolog-server/internal/http"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// getUserID returns the authenticated user's id.
func getUserID(c *gin.Context) uint64 {
	return httpx.UserID(c)
}

// respondError writes the error envelope for err.
func respondError(c *gin.Context, err error) {
	httpx.RespondError(c, err)
}

// parsePaging reads limit and skip query parameters with defaults.
func parsePaging(c *gin.Context) (int, int) {
	limit := defaultPageLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if n, errParse := strconv.Atoi(raw); errParse == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	skip := 0
	if raw := strings.TrimSpace(c.Query("skip")); raw != "" {
		if n, errParse := strconv.Atoi(raw); errParse == nil && n > 0 {
			skip = n
		}
	}
	return limit, skip
}

// decodeJSON decodes the request body keeping numbers as json.Number.
func decodeJSON(c *gin.Context, dst any) error {
	decoder := json.NewDecoder(c.Request.Body)
	decoder.UseNumber()
	if errDecode := decoder.Decode(dst); errDecode != nil && !errors.Is(errDecode, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(errDecode, &maxErr) {
			return apperr.Validation("request body too large")
		}
		return apperr.Validation("invalid json")
	}
	return nil
}

// idString accepts an identifier sent either as a JSON string or number.
func idString(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", apperr.Validation(fmt.Sprintf("invalid identifier %v", v))
	}
}

// formFile opens a multipart upload, translating size and missing-field errors.
func formFile(c *gin.Context, field string, maxBytes int64) (*multipartUpload, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	file, header, errForm := c.Request.FormFile(field)
	if errForm != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(errForm, &maxErr):
			return nil, apperr.Validation(fmt.Sprintf("file exceeds the %d MB upload limit", maxBytes>>20))
		case errors.Is(errForm, http.ErrMissingFile):
			return nil, apperr.Validation(fmt.Sprintf("%s file is required", field))
		default:
			return nil, apperr.Wrap(apperr.ErrValidation, "invalid multipart form", errForm)
		}
	}
	return &multipartUpload{
		File:        file,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}, nil
}

// multipartUpload is one opened form file.
type multipartUpload struct {
	File        io.ReadCloser
	Filename    string
	ContentType string
}

// formFloat parses an optional numeric form field.
func formFloat(c *gin.Context, field string) float64 {
	raw := strings.TrimSpace(c.PostForm(field))
	if raw == "" {
		return 0
	}
	v, errParse := strconv.ParseFloat(raw, 64)
	if errParse != nil || v < 0 {
		return 0
	}
	return v
}

// isMultipart reports whether the request carries a multipart form.
func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/")
}
