/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

// Version is the current version of Muninn Playout.
// This is set at build time via ldflags:
//
//	-X github.com/skaldworks/muninn_playout/internal/version.Version=X.Y.Z
var Version = "0.3.1"
