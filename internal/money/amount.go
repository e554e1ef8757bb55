package money

import (
	"fmt"
	"math"
	"strings"

	xerrors "AgentMesh-Chain/internal/errors"
)

// fractionDigits 是金额的固定小数位数，对应 HBAR 的 tinybar 精度。
const fractionDigits = 8

// unitScale = 10^fractionDigits。
const unitScale = 100_000_000

// Amount 以定点方式表示一笔支付金额，创建后不可变。
// 内部以最小货币单位（tinybar）的整数保存，避免浮点误差。
type Amount struct {
	tinybar int64
}

// FromTinybar 直接从最小单位构造金额。
func FromTinybar(tinybar int64) Amount {
	return Amount{tinybar: tinybar}
}

// Parse 解析十进制字符串形式的金额，例如 "10" 或 "0.5"。
// 超过 8 位的小数部分视为非法输入。
func Parse(raw string) (Amount, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Amount{}, xerrors.New(xerrors.CodeValidation, "金额不能为空")
	}
	negative := false
	if strings.HasPrefix(text, "-") {
		negative = true
		text = text[1:]
	}
	intPart := text
	fracPart := ""
	if idx := strings.IndexByte(text, '.'); idx >= 0 {
		intPart = text[:idx]
		fracPart = text[idx+1:]
	}
	if intPart == "" && fracPart == "" {
		return Amount{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("非法金额: %q", raw))
	}
	if len(fracPart) > fractionDigits {
		return Amount{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("金额 %q 超出 %d 位小数精度", raw, fractionDigits))
	}
	var whole int64
	for _, r := range intPart {
		if r < '0' || r > '9' {
			return Amount{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("非法金额: %q", raw))
		}
		if whole > (math.MaxInt64-int64(r-'0'))/10 {
			return Amount{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("金额 %q 超出可表示范围", raw))
		}
		whole = whole*10 + int64(r-'0')
	}
	if whole > math.MaxInt64/unitScale {
		return Amount{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("金额 %q 超出可表示范围", raw))
	}
	total := whole * unitScale
	scale := int64(unitScale / 10)
	for _, r := range fracPart {
		if r < '0' || r > '9' {
			return Amount{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("非法金额: %q", raw))
		}
		add := int64(r-'0') * scale
		if total > math.MaxInt64-add {
			return Amount{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("金额 %q 超出可表示范围", raw))
		}
		total += add
		scale /= 10
	}
	if negative {
		total = -total
	}
	return Amount{tinybar: total}, nil
}

// MustParse 在解析失败时 panic，仅用于测试和常量。
func MustParse(raw string) Amount {
	amount, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return amount
}

// Tinybar 返回最小单位的整数值。
func (a Amount) Tinybar() int64 {
	return a.tinybar
}

// IsPositive 判断金额是否大于零。
func (a Amount) IsPositive() bool {
	return a.tinybar > 0
}

// IsZero 判断金额是否为零。
func (a Amount) IsZero() bool {
	return a.tinybar == 0
}

// String 输出规范的十进制表示，不使用科学计数法，去掉多余的尾随零。
func (a Amount) String() string {
	tinybar := a.tinybar
	sign := ""
	if tinybar < 0 {
		sign = "-"
		tinybar = -tinybar
	}
	whole := tinybar / unitScale
	frac := tinybar % unitScale
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}
	fracText := strings.TrimRight(fmt.Sprintf("%08d", frac), "0")
	return fmt.Sprintf("%s%d.%s", sign, whole, fracText)
}

// MarshalText 实现 encoding.TextMarshaler。
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
