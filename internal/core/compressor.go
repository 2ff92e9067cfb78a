package core

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
)

// ErrUnsafeArchivePath is returned when a directory path would not extract
// inside the target directory, e.g. one containing "..".
var ErrUnsafeArchivePath = errors.New("path is not safe inside an archive")

// ToZipBytes packs the tree into a zip archive holding one directory entry
// per node, e.g. "fruits/" and "fruits/apples/".
func (ft *Filetree) ToZipBytes() ([]byte, error) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	modified := time.Now()
	var walkErr error
	ft.Root.Walk(func(path string, _ *Dir) {
		if walkErr != nil {
			return
		}
		walkErr = addDirToZip(zipWriter, path, modified)
	})
	if walkErr != nil {
		zipWriter.Close()
		return nil, walkErr
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip writer: %w", err)
	}

	return buf.Bytes(), nil
}

func addDirToZip(zw *zip.Writer, path string, modified time.Time) error {
	if !fs.ValidPath(path) || strings.Contains(path, `\`) {
		return fmt.Errorf("%w: %q", ErrUnsafeArchivePath, path)
	}

	header := &zip.FileHeader{
		Name:     path + "/",
		Method:   zip.Store,
		Modified: modified,
	}
	header.SetMode(os.ModeDir | 0o755)

	if _, err := zw.CreateHeader(header); err != nil {
		return fmt.Errorf("failed to create zip entry %s: %w", path, err)
	}
	return nil
}
