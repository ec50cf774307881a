package server

import (
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// maxNameLen bounds server names, which become directory, socket and pid
// file names.
const maxNameLen = 64

func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// validServerName accepts names usable as a directory under servers_dir:
// A-Z a-z 0-9 . _ - only, no leading dot and no "..".
func validServerName(s string) bool {
	if s == "" || len(s) > maxNameLen || s[0] == '.' || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// validInstaller accepts an absolute, already clean path to a jar file on
// the daemon host.
func validInstaller(p string) bool {
	if p == "" || !filepath.IsAbs(p) || filepath.Clean(p) != p {
		return false
	}
	return strings.EqualFold(filepath.Ext(p), ".jar")
}

// queryBool reads a boolean query parameter; absent or malformed means false.
func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
