package security

import "golang.org/x/crypto/bcrypt"

// BcryptCost 订单查询密码的 bcrypt 强度，测试中可以调低。
var BcryptCost = bcrypt.DefaultCost

// HashPassword 生成查询密码的 bcrypt 摘要。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 比较摘要与明文。
func CheckPassword(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
