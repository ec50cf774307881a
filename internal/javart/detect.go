// Package javart finds and installs the Java runtime a server jar needs.
package javart

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// MinVersion is the oldest runtime mcvisor will install.
const MinVersion = 8

// ErrNoClass is returned for archives without any compiled class.
var ErrNoClass = errors.New("no class files in jar")

// DetectClassMajor returns the class-file major version of the first
// .class entry in the jar.
func DetectClassMajor(jarPath string) (int, error) {
	zr, err := zip.OpenReader(jarPath)
	if err != nil {
		return 0, fmt.Errorf("open jar: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".class") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return 0, fmt.Errorf("open %s: %w", f.Name, err)
		}
		var header [8]byte
		_, err = io.ReadFull(rc, header[:])
		_ = rc.Close()
		if err != nil {
			return 0, fmt.Errorf("read class header %s: %w", f.Name, err)
		}
		return int(header[6])<<8 | int(header[7]), nil
	}
	return 0, fmt.Errorf("%s: %w", filepath.Base(jarPath), ErrNoClass)
}

// JavaVersion maps a class-file major version to the Java feature release.
func JavaVersion(major int) int { return major - 44 }

// Clamp raises versions older than MinVersion.
func Clamp(v int) int {
	if v < MinVersion {
		return MinVersion
	}
	return v
}

// Binary returns the java executable for a configured runtime path.
func Binary(runtimePath string) string {
	if runtimePath == "" || runtimePath == "java" {
		return "java"
	}
	return filepath.Join(runtimePath, "bin", "java")
}
