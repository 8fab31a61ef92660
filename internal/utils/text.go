// internal/utils/text.go
package utils

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var lowerCaser = cases.Lower(language.Und)

// FoldText 关键字匹配前的归一化：NFKC（全角转半角）后转小写
func FoldText(s string) string {
	if s == "" {
		return ""
	}
	return lowerCaser.String(norm.NFKC.String(s))
}

// ContainsFold 归一化后的子串匹配，空关键字不匹配
func ContainsFold(foldedText, keyword string) bool {
	k := FoldText(keyword)
	return k != "" && strings.Contains(foldedText, k)
}

// RuneLen 字符数
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Truncate 按字符截断并附加省略号
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "…"
}
