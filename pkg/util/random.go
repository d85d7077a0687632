package util

import (
	"crypto/rand"
	"math/big"
)

// InviteCodeAlphabet 去掉了易混淆的 0/O/1/I
const InviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandomString 使用 crypto/rand 生成指定字母表的随机串
func RandomString(n int, alphabet string) (string, error) {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}
