package token

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// NewCode returns a uniformly random decimal code of n digits, zero padded.
func NewCode(n int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
