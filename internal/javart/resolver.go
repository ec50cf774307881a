package javart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the Adoptium API root.
const DefaultBaseURL = "https://api.adoptium.net/v3"

// maxTries bounds how many successive versions are tried when a release has
// no build for this platform.
const maxTries = 10

// ErrNoBuild is returned when no downloadable build was found.
var ErrNoBuild = errors.New("no runtime build available")

// Resolver installs Adoptium JDKs under CacheDir, one directory per version.
type Resolver struct {
	CacheDir string
	BaseURL  string
	Client   *http.Client
	OS       string // adoptium os name; derived from GOOS when empty
	Arch     string // adoptium architecture; derived from GOARCH when empty
	Log      *slog.Logger

	mu sync.Mutex
}

type asset struct {
	Binary struct {
		OS           string `json:"os"`
		Architecture string `json:"architecture"`
		ImageType    string `json:"image_type"`
		Package      struct {
			Link string `json:"link"`
			Name string `json:"name"`
		} `json:"package"`
	} `json:"binary"`
	ReleaseName string `json:"release_name"`
}

func (r *Resolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: 10 * time.Minute}
}

func (r *Resolver) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *Resolver) platform() (string, string) {
	osName, arch := r.OS, r.Arch
	if osName == "" {
		switch runtime.GOOS {
		case "darwin":
			osName = "mac"
		default:
			osName = runtime.GOOS
		}
	}
	if arch == "" {
		switch runtime.GOARCH {
		case "amd64":
			arch = "x64"
		case "arm64":
			arch = "aarch64"
		case "386":
			arch = "x32"
		default:
			arch = runtime.GOARCH
		}
	}
	return osName, arch
}

// Dir is where version v is installed.
func (r *Resolver) Dir(v int) string {
	return filepath.Join(r.CacheDir, fmt.Sprintf("jdk-%d", v))
}

// Ensure returns an installed runtime for version v or newer, downloading
// one when the cache has none.
func (r *Resolver) Ensure(ctx context.Context, v int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v = Clamp(v)
	for i := 0; i < maxTries; i++ {
		if dir := r.Dir(v + i); installed(dir) {
			return dir, nil
		}
	}
	for i := 0; i < maxTries; i++ {
		link, err := r.lookup(ctx, v+i)
		if err != nil {
			return "", err
		}
		if link == "" {
			r.log().Debug("no runtime build", "version", v+i)
			continue
		}
		dir := r.Dir(v + i)
		if err := r.install(ctx, link, dir); err != nil {
			return "", err
		}
		r.log().Info("installed java runtime", "version", v+i, "dir", dir)
		return dir, nil
	}
	return "", fmt.Errorf("java %d-%d: %w", v, v+maxTries-1, ErrNoBuild)
}

func installed(dir string) bool {
	fi, err := os.Stat(Binary(dir))
	return err == nil && !fi.IsDir()
}

func (r *Resolver) lookup(ctx context.Context, v int) (string, error) {
	base := r.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	url := fmt.Sprintf("%s/assets/latest/%d/hotspot", strings.TrimRight(base, "/"), v)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("query runtimes: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query runtimes: %s", resp.Status)
	}
	var assets []asset
	if err := json.NewDecoder(resp.Body).Decode(&assets); err != nil {
		return "", fmt.Errorf("decode runtimes: %w", err)
	}
	osName, arch := r.platform()
	for _, a := range assets {
		b := a.Binary
		if b.OS != osName || b.Architecture != arch || b.ImageType != "jdk" {
			continue
		}
		if l := b.Package.Link; strings.HasSuffix(l, ".tar.gz") || strings.HasSuffix(l, ".zip") {
			return l, nil
		}
	}
	return "", nil
}

func (r *Resolver) install(ctx context.Context, link, dir string) error {
	if err := os.MkdirAll(r.CacheDir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(r.CacheDir, ".download-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		_ = tmp.Close()
		return err
	}
	resp, err := r.client().Do(req)
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("download runtime: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_ = tmp.Close()
		return fmt.Errorf("download runtime: %s", resp.Status)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("download runtime: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	staging := dir + ".partial"
	_ = os.RemoveAll(staging)
	if strings.HasSuffix(link, ".zip") {
		err = extractZip(tmp.Name(), staging)
	} else {
		err = extractTarGz(tmp.Name(), staging)
	}
	if err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("extract runtime: %w", err)
	}
	_ = os.RemoveAll(dir)
	return os.Rename(staging, dir)
}

// AutoDetect installs the runtime that jarPath was compiled for.
func (r *Resolver) AutoDetect(ctx context.Context, jarPath string) (string, error) {
	major, err := DetectClassMajor(jarPath)
	if err != nil {
		return "", err
	}
	return r.Ensure(ctx, JavaVersion(major))
}
