// Package verification はメール認証およびパスワードリセットで使用する
// 数値確認コードを生成する。
package verification

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeLength は確認コードの桁数。
const CodeLength = 6

// codeSpace は生成可能なコードの総数（10^6）。
var codeSpace = big.NewInt(1_000_000)

// NewCode は6桁の数値確認コードを生成する。
// crypto/randによる一様分布で、先頭ゼロを含む固定長文字列を返す。
// 衝突判定は行わない。呼び出し側はメールアドレス単位で上書き保存する。
func NewCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// ValidFormat はコードが6桁の数字のみで構成されているかを返す。
func ValidFormat(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
