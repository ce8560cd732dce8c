package random

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// * NewCode генерирует случайную строку заданной длины из заглавных латинских букв и цифр
func NewCode(length int) (string, error) {
	const op = "random.NewCode"

	if length <= 0 {
		return "", fmt.Errorf("%s: length must be positive, got %d", op, length)
	}

	alphabetLen := big.NewInt(int64(len(CodeAlphabet)))
	buf := make([]byte, length)

	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		buf[i] = CodeAlphabet[n.Int64()]
	}

	return string(buf), nil
}
