// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system: home directory expansion,
// dataset root resolution and checksum validation.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrRootNotFound is returned (wrapped) by CheckRootExists when a required dataset root is missing.
var ErrRootNotFound = errors.New("dataset root not found")

// MustFileExists returns whether the file or directory exists.
// It panics on file system errors.
func MustFileExists(path string) bool {
	exists, err := FileExists(path)
	if err != nil {
		panic(err)
	}
	return exists
}

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to FileExists(%q)", path)
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` has an unknown user or some other filesystem error (e.g: `~unknown/...`)
func ReplaceTildeInDir(dir string) (string, error) {
	if len(dir) == 0 || dir[0] != '~' {
		return dir, nil
	}
	var userName string
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		sepIdx := strings.IndexRune(dir, '/')
		if sepIdx == -1 {
			userName = dir[1:]
		} else {
			userName = dir[1:sepIdx]
		}
	}
	var homeDir string
	if userName == "" {
		// $HOME takes precedence, so tests and containers can redirect it.
		homeDir = os.Getenv("HOME")
	}
	if homeDir == "" {
		var usr *user.User
		var err error
		if userName == "" {
			usr, err = user.Current()
		} else {
			usr, err = user.Lookup(userName)
		}
		if err != nil {
			return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
		}
		homeDir = usr.HomeDir
	}
	return filepath.Join(homeDir, dir[1+len(userName):]), nil
}

// AbsoluteRoot expands `~` in root and creates the directory (and its parents) if it doesn't exist.
//
// It returns the expanded root and whether it existed before the call.
func AbsoluteRoot(root string) (expanded string, existed bool, err error) {
	expanded, err = ReplaceTildeInDir(root)
	if err != nil {
		return
	}
	existed, err = FileExists(expanded)
	if err != nil || existed {
		return
	}
	if err = os.MkdirAll(expanded, 0755); err != nil {
		err = errors.Wrapf(err, "failed to create dataset root %q", expanded)
		return
	}
	klog.V(1).Infof("created dataset root %q", expanded)
	return
}

// CheckRootExists expands `~` in root and returns an error wrapping ErrRootNotFound if it doesn't exist.
// Unlike AbsoluteRoot it never creates anything.
func CheckRootExists(root string) (string, error) {
	expanded, err := ReplaceTildeInDir(root)
	if err != nil {
		return "", err
	}
	exists, err := FileExists(expanded)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.Wrapf(ErrRootNotFound, "cannot find %s", expanded)
	}
	return expanded, nil
}

// ValidateChecksum verifies that the sha256 checksum of the file in the given path matches checkHash.
// If it fails, it will remove the file (!) and return an error.
func ValidateChecksum(path, checkHash string) error {
	hasher := sha256.New()
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q for checksum", path)
	}
	defer func() {
		_ = f.Close() // Discard reading error on Close.
	}()

	if _, err = io.Copy(hasher, f); err != nil {
		return errors.Wrapf(err, "failed to read %q for checksum", path)
	}
	fileHash := hex.EncodeToString(hasher.Sum(nil))
	if fileHash != strings.ToLower(checkHash) {
		err = errors.Errorf("file %q sha256 hash is %q, but expected %q, deleting file",
			path, fileHash, checkHash)
		if e2 := os.Remove(path); e2 != nil {
			klog.Errorf("Failed to remove %q, which failed checksum test. Please remove it. %+v", path, e2)
		}
		return err
	}
	return nil
}

// ByteCountIEC converts a byte count to string using the binary prefix system from IEC (KiB, MiB, ...).
func ByteCountIEC(count int64) string {
	if count < 0 {
		return "unknown size"
	}
	return humanize.IBytes(uint64(count))
}
