// internal/prompt/tokens.go
package prompt

import "unicode/utf16"

// TokenEstimator 估算文本的 token 数
type TokenEstimator interface {
	Estimate(text string) int
}

// EstimatorFunc 函数适配器
type EstimatorFunc func(string) int

func (f EstimatorFunc) Estimate(text string) int { return f(text) }

// UTF16Estimator 按 UTF-16 码元计数，和浏览器端字符串长度一致
type UTF16Estimator struct{}

func (UTF16Estimator) Estimate(text string) int {
	n := 0
	for _, r := range text {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}
