package uopool

import (
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

func nowUnix() int64 {
	return time.Now().Unix()
}

func crypto256(data []byte) []byte {
	return crypto.Keccak256(data)
}
