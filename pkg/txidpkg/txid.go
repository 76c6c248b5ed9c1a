// Package txidpkg generates externally visible escrow transaction identifiers.
package txidpkg

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	// Prefix starts every generated identifier.
	Prefix = "ESK"

	suffixLen      = 5
	suffixAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Generator produces identifiers made of Prefix, the Unix time in milliseconds and a
// random base36 suffix, e.g. ESK1700000000000K3Z9Q.
//
// Collisions are unlikely but possible; the registry rejects duplicates.
type Generator struct {
	now func() time.Time
}

// New returns a Generator using the wall clock.
func New() *Generator {
	return &Generator{now: time.Now}
}

// Next returns a new identifier.
func (g *Generator) Next() string {
	var sb strings.Builder

	sb.Grow(len(Prefix) + 13 + suffixLen)
	sb.WriteString(Prefix)
	sb.WriteString(strconv.FormatInt(g.now().UnixMilli(), 10))

	max := big.NewInt(int64(len(suffixAlphabet)))

	for i := 0; i < suffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}

		_ = sb.WriteByte(suffixAlphabet[n.Int64()]) // The returned err is always nil.
	}

	return sb.String()
}
