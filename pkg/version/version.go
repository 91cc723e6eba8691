// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

// Package version holds the release of the binary.
package version

// Version is set at build time with
// -ldflags "-X github.com/nc6-project/nc6/pkg/version.Version=v1.2.3".
var Version = "<unknown>"
