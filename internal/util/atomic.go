// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// RELIABILITY: Atomic write with fsync prevents a torn conversation file.
//
// AtomicWriteFile writes data to path by writing a temp file in the same
// directory, syncing it, and renaming it over the target. Readers observe
// either the previous content or the new content, never a partial write.
// The parent directory is created with 0700 when missing.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return AtomicWriteFileWithDir(path, data, perm, 0o700)
}

// AtomicWriteFileWithDir is AtomicWriteFile with an explicit permission for
// a parent directory that has to be created.
func AtomicWriteFileWithDir(path string, data []byte, filePerm, dirPerm os.FileMode) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "resolve path")
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return errors.Wrap(err, "create parent directory")
	}

	// Same directory as the target keeps the rename on one filesystem.
	f, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "sync temp file")
	}
	// Close before rename; Windows refuses to rename open files.
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Chmod(tempPath, filePerm); err != nil {
		return errors.Wrap(err, "set file permissions")
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		return errors.Wrap(err, "rename temp file")
	}

	success = true
	return nil
}
