package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	fp "path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

func cleanPath(p string) string { return fp.Clean(p) }

func joinPath(elem ...string) string { return fp.Join(elem...) }

func mkdir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	return nil
}

// excluded reports whether rel (slash separated, relative to the archived
// root) must stay out of archives.
func excluded(rel string, isDir bool) bool {
	for _, seg := range strings.Split(rel, "/") {
		if seg == "backups" {
			return true
		}
	}
	return !isDir && strings.HasSuffix(rel, ".lock")
}

func within(path, dir string) bool {
	if dir == "" {
		return false
	}
	rel, err := fp.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(fp.Separator))
}

// zipDir writes every file below src into archive. The archive is written
// under a .tmp name and renamed when complete. Unreadable files are skipped.
func zipDir(src, archive string, skip []string, log *slog.Logger) error {
	tmp := archive + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(f)

	walkErr := fp.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == src {
				return err
			}
			log.Debug("skip unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == src {
			return nil
		}
		for _, s := range skip {
			if within(path, s) {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
		}
		rel, err := fp.Rel(src, path)
		if err != nil {
			return err
		}
		rel = fp.ToSlash(rel)
		if excluded(rel, d.IsDir()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := addFile(zw, path, rel); err != nil {
			log.Debug("skip file", "path", path, "error", err)
		}
		return nil
	})

	closeErr := zw.Close()
	if err := f.Close(); closeErr == nil {
		closeErr = err
	}
	if walkErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write archive: %w", errors.Join(walkErr, closeErr))
	}
	if err := os.Rename(tmp, archive); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, path, rel string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	h, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	h.Name = rel
	h.Method = zip.Deflate
	w, err := zw.CreateHeader(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

type archiveFile struct {
	path    string
	created time.Time
}

func listArchives(dir string) []archiveFile {
	var out []archiveFile
	_ = fp.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".zip") {
			return nil
		}
		out = append(out, archiveFile{path: path, created: creationTime(path)})
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].created.Equal(out[j].created) {
			return out[i].created.Before(out[j].created)
		}
		return out[i].path < out[j].path
	})
	return out
}

// prune deletes the oldest archives in dir until one more fits within limit.
func prune(dir string, limit int, log *slog.Logger) {
	files := listArchives(dir)
	for i := 0; len(files)-i+1 > limit && i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			log.Error("delete old backup failed", "path", files[i].path, "error", err)
			continue
		}
		log.Info("deleted old backup", "path", files[i].path)
	}
}

// cleanTemp removes leftovers of interrupted archive writes.
func cleanTemp(dir string, log *slog.Logger) {
	_ = fp.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		if err := os.Remove(path); err != nil {
			log.Warn("remove temp file failed", "path", path, "error", err)
		}
		return nil
	})
}

// findPlayerdata returns every directory named playerdata below root,
// leaving out backup trees.
func findPlayerdata(root string, skip []string) ([]string, error) {
	var out []string
	err := fp.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() || path == root {
			return nil
		}
		for _, s := range skip {
			if within(path, s) {
				return fs.SkipDir
			}
		}
		if d.Name() == "backups" {
			return fs.SkipDir
		}
		if d.Name() == "playerdata" {
			out = append(out, path)
			return fs.SkipDir
		}
		return nil
	})
	return out, err
}

// worldName is the directory containing a playerdata folder.
func worldName(playerdata string) string {
	return fp.Base(fp.Dir(playerdata))
}
