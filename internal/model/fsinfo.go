// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines FSInfo, which ties every parsed block back to the file it
// was declared in so that validation errors can name the offending file.
package model

// FSInfo stores file system metadata for a parsed block.
type FSInfo struct {
	FilePath string
}

// NewFSInfo creates FSInfo for a block declared in filePath. Built-in
// definitions use the pseudo path "<default>".
func NewFSInfo(filePath string) *FSInfo {
	return &FSInfo{
		FilePath: filePath,
	}
}

func (f *FSInfo) String() string {
	if f == nil {
		return "<unknown>"
	}
	return f.FilePath
}
