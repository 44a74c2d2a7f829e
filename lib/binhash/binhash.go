// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// DigestSize is the length of a digest in bytes.
const DigestSize = 32

// HashFile computes the BLAKE3 digest of the file at path.
func HashFile(path string) ([DigestSize]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return [DigestSize]byte{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return [DigestSize]byte{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest [DigestSize]byte
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// FormatDigest returns the lowercase hex form of digest.
func FormatDigest(digest [DigestSize]byte) string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses the output of FormatDigest.
func ParseDigest(hexString string) ([DigestSize]byte, error) {
	var digest [DigestSize]byte
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing hash digest: %w", err)
	}
	if len(decoded) != DigestSize {
		return digest, fmt.Errorf("hash digest is %d bytes, want %d", len(decoded), DigestSize)
	}
	copy(digest[:], decoded)
	return digest, nil
}
