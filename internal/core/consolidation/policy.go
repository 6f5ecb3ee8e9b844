package consolidation

import (
	"fmt"
	"strings"
)

// NegativeDurationPolicy はペアの経過時間が負になった場合の扱いです。
type NegativeDurationPolicy string

const (
	// NegativeDurationKeep は計算値をそのまま加算します。
	NegativeDurationKeep NegativeDurationPolicy = "keep"
	// NegativeDurationClamp は 0 分として扱います。
	NegativeDurationClamp NegativeDurationPolicy = "clamp"
	// NegativeDurationReject は実行を ErrNegativeDuration で中断します。
	NegativeDurationReject NegativeDurationPolicy = "reject"
)

// ParseNegativeDurationPolicy は設定値をポリシーに変換します。空文字は keep です。
func ParseNegativeDurationPolicy(raw string) (NegativeDurationPolicy, error) {
	switch p := NegativeDurationPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return NegativeDurationKeep, nil
	case NegativeDurationKeep, NegativeDurationClamp, NegativeDurationReject:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
	}
}
