// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vcs reports source-control information about the running checkout.
package vcs

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"k8s.io/klog/v2"
)

// ShortHash returns the short commit hash of the git checkout enclosing the current directory.
// See ShortHashIn.
func ShortHash(ctx context.Context) string {
	return ShortHashIn(ctx, "")
}

// ShortHashIn returns the short commit hash (`git rev-parse --short HEAD`) of the git checkout enclosing dir,
// or an empty string if dir is not inside a work tree, the checkout has no commits or git is not installed.
//
// An empty dir means the current directory.
func ShortHashIn(ctx context.Context, dir string) string {
	inside, err := gitOutput(ctx, dir, "rev-parse", "--is-inside-work-tree")
	if err != nil || inside != "true" {
		return ""
	}
	hash, err := gitOutput(ctx, dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return ""
	}
	return hash
}

// gitOutput runs git with args and returns its standard output without the trailing newline.
func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		klog.V(2).Infof("git %s: %v", strings.Join(args, " "), err)
		return "", err
	}
	return strings.TrimSuffix(stdout.String(), "\n"), nil
}
