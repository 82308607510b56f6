package settlement

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// shuffle performs a cryptographically secure Fisher-Yates shuffle.
func shuffle[T any](slice []T) error {
	for i := len(slice) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("failed to generate random number: %w", err)
		}
		j := int(jBig.Int64())
		slice[i], slice[j] = slice[j], slice[i]
	}
	return nil
}
