package credential

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummyPassword は未登録メールアドレスでのログイン時に比較するダミー平文。
const dummyPassword = "atelier-timing-equalizer"

// Hasher はbcryptによるパスワードの一方向ハッシュと照合を行う。
type Hasher struct {
	cost      int
	dummyHash []byte
}

// NewHasher はHasherを生成する。costはbcryptの許容範囲に丸める。
// 照合時間を揃えるため、同じcostでダミーハッシュを1つ生成しておく。
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dummy hash: %w", err)
	}

	return &Hasher{cost: cost, dummyHash: dummy}, nil
}

// Cost は実際に使用するbcryptのcostを返す。
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash は平文パスワードのハッシュを返す。
// 72バイトを超えるパスワードはbcryptの制約によりErrPasswordTooLongを返す。
func (h *Hasher) Hash(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Compare はハッシュと平文が一致するかを返す。比較は定数時間で行われる。
func (h *Hasher) Compare(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// CompareDummy はダミーハッシュと比較し、常にfalseを返す。
func (h *Hasher) CompareDummy(plain string) bool {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(plain))
	return false
}
