// Package num 提供带方向的精度取整。报价路径上所有 tick/lot 取整都走这里，
// 避免 float 运算在精度边界上把价差磨窄。
package num

import "github.com/shopspring/decimal"

// Floor 向下取整到 places 位小数。
func Floor(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).RoundFloor(places).InexactFloat64()
}

// Ceil 向上取整到 places 位小数。
func Ceil(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).RoundCeil(places).InexactFloat64()
}
