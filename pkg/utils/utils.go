// Package utils 通用小工具，不依赖 internal
package utils

// Coalesce 返回第一个非零值
func Coalesce[T comparable](vs ...T) T {
	var zero T
	for _, v := range vs {
		if v != zero {
			return v
		}
	}
	return zero
}

// PositiveOr v<=0 时返回 def；用于配置项缺省
func PositiveOr[T ~int | ~int64 | ~float64](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
