// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package testrand implements pseudo-random data generation for tests.
package testrand

import (
	"math/rand"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Intn returns a non-negative pseudo-random int in [0,n).
func Intn(n int) int { return rand.Intn(n) }

// Int63n returns a non-negative pseudo-random int64 in [0,n).
func Int63n(n int64) int64 { return rand.Int63n(n) }

// Read fills data with pseudo-random bytes.
func Read(data []byte) {
	_, _ = rand.Read(data)
}

// BytesN generates n bytes of random data.
func BytesN(n int) []byte {
	data := make([]byte, n)
	Read(data)
	return data
}

// String generates a random alphanumeric string of length n.
func String(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = alphanumeric[rand.Intn(len(alphanumeric))]
	}
	return string(out)
}

// ArticleNumber generates a plausible external article identifier.
func ArticleNumber() string {
	return String(3) + "-" + String(5)
}

// NumberIn returns a random number within [lo, hi].
func NumberIn(lo, hi int64) int64 {
	return lo + rand.Int63n(hi-lo+1)
}
