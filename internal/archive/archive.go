// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package archive packs a working directory into a single
// transport-friendly string (tar, deflated, base64-encoded) and
// unpacks it again, used by the remote backend to ship a job's working
// directory to the far side and back.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/flate"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Pack walks dir and returns a base64-encoded, deflated tar stream of
// its contents (paths stored relative to dir).
func Pack(dir string) (string, error) {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("archive: packing %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("archive: closing tar writer: %w", err)
	}

	var deflated bytes.Buffer
	fw, err := flate.NewWriter(&deflated, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("archive: creating deflate writer: %w", err)
	}
	if _, err := fw.Write(tarBuf.Bytes()); err != nil {
		return "", fmt.Errorf("archive: deflating: %w", err)
	}
	if err := fw.Close(); err != nil {
		return "", fmt.Errorf("archive: closing deflate writer: %w", err)
	}

	return base64.StdEncoding.EncodeToString(deflated.Bytes()), nil
}

// Unpack reverses Pack, materializing the packed tree under dest
// (created if absent).
func Unpack(encoded string, dest string) error {
	deflated, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("archive: base64 decoding: %w", err)
	}

	fr := flate.NewReader(bytes.NewReader(deflated))
	defer fr.Close()

	tr := tar.NewReader(fr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("archive: reading tar stream: %w", err)
		}

		target := filepath.Join(dest, filepath.FromSlash(header.Name))
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
				return fmt.Errorf("archive: creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("archive: creating parent of %s: %w", target, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("archive: creating file %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("archive: writing file %s: %w", target, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("archive: closing file %s: %w", target, err)
			}
		}
	}
	return nil
}
