package hashutil

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
)

// Default is the algorithm used for photo ETags.
const Default = "sha256"

type HashFactory func() hash.Hash

var registry = map[string]HashFactory{
	"sha256": sha256.New,
	"sha512": sha512.New,
}

func GetHasher(name string) (hash.Hash, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
	return factory(), nil
}

// Sum returns the hex digest of data using the named algorithm.
func Sum(name string, data []byte) (string, error) {
	h, err := GetHasher(name)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
