// Package numerics 提供引擎全部价格/数量运算依赖的确定性数值原语。
// 这些函数位于阈值判断的最内层，必须逐位可复现：同样的输入在任何
// 一次运行中都要得到完全相同的 float64。
package numerics

import "math"

// safetyRounding 把步长取整的结果再压到 10 位小数，
// 消除 n/step 引入的浮点漂移。
const safetyRounding = 1e10

func clamp(n float64) float64 {
	return math.Round(n*safetyRounding) / safetyRounding
}

// RoundToStep 将 n 吸附到最近的 step 整数倍，半数远离零。
// step <= 0 时原样返回。幂等：对同一步长重复应用结果不变。
func RoundToStep(n, step float64) float64 {
	if step <= 0 {
		return n
	}
	return clamp(math.Round(n/step) * step)
}

// RoundUp 向上吸附到 step 整数倍。
func RoundUp(n, step float64) float64 {
	if step <= 0 {
		return n
	}
	return clamp(math.Ceil(n/step) * step)
}

// RoundDn 向下吸附到 step 整数倍。
func RoundDn(n, step float64) float64 {
	if step <= 0 {
		return n
	}
	return clamp(math.Floor(n/step) * step)
}

// Diff 返回 x 相对 y 的距离 |x-y|/|y|。
// y 为零时数学上无定义，这里固定哨兵值：x 也为零返回 0，
// 否则返回 1（与回测循环中"无爆仓风险"的初始距离一致）。
func Diff(x, y float64) float64 {
	if y == 0 {
		if x == 0 {
			return 0
		}
		return 1
	}
	return math.Abs(x-y) / math.Abs(y)
}

// Alpha 由 span 计算 EMA 平滑系数 2/(span+1)。
func Alpha(span int) float64 {
	return 2.0 / (float64(span) + 1.0)
}

// EMA 执行一步指数滑动平均更新。
func EMA(alpha, prev, v float64) float64 {
	return prev*(1.0-alpha) + v*alpha
}
