package model

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

func GenerateTransactionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	return base58.Encode(id[:]), nil
}

func MustGenerateTransactionID() string {
	id, err := GenerateTransactionID()
	if err != nil {
		panic(fmt.Sprintf("failed to generate transaction id: %v", err))
	}

	return id
}
