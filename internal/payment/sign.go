// Package payment 实现 epay 风格网关的 MD5 签名、回调参数解析与支付请求构造。
package payment

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// SignTypeMD5 唯一接受的签名算法。
const SignTypeMD5 = "MD5"

// Verifier 回调验签器。引擎只依赖该接口，签名算法可以整体替换。
type Verifier interface {
	// AcceptsSignType 判断回调声明的 sign_type 是否受支持。
	AcceptsSignType(signType string) bool
	// Verify 校验 params 中的 sign 字段。
	Verify(params map[string]string, secret string) bool
}

// MD5Verifier 网关默认的 MD5 验签。
type MD5Verifier struct{}

// AcceptsSignType 大小写不敏感；缺省 sign_type 视为 MD5。
func (MD5Verifier) AcceptsSignType(signType string) bool {
	return signType == "" || strings.EqualFold(signType, SignTypeMD5)
}

func (MD5Verifier) Verify(params map[string]string, secret string) bool {
	return Verify(params, secret)
}

// Verify 以网关规则重新计算签名并与 params["sign"] 做常量时间比较（忽略大小写）。
func Verify(params map[string]string, secret string) bool {
	got := strings.ToLower(strings.TrimSpace(params["sign"]))
	if got == "" || secret == "" {
		return false
	}
	want := Sign(params, secret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Sign 计算小写 hex 的 MD5 签名：
// 去掉 sign/sign_type 与空值，按 key 升序拼成 k=v&k=v，末尾直接追加密钥。
func Sign(params map[string]string, secret string) string {
	sum := md5.Sum([]byte(canonical(params) + secret))
	return hex.EncodeToString(sum[:])
}

func canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
