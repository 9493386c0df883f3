package view

import (
	"fmt"
	"math"
	"strings"
)

// IsBuiltinReduce reports whether source names a native reducer.
func IsBuiltinReduce(source string) bool {
	_, ok := builtinReducers[strings.TrimSpace(source)]
	return ok
}

var builtinReducers = map[string]ReduceFunc{
	"_count": reduceCount,
	"_sum":   reduceSum,
	"_stats": reduceStats,
}

func builtinReduce(source string) (ReduceFunc, bool) {
	fn, ok := builtinReducers[strings.TrimSpace(source)]
	return fn, ok
}

func reduceCount(keys []interface{}, values []interface{}, rereduce bool) (interface{}, error) {
	if !rereduce {
		return float64(len(values)), nil
	}
	return reduceSum(nil, values, true)
}

func reduceSum(keys []interface{}, values []interface{}, rereduce bool) (interface{}, error) {
	var sum float64
	for _, v := range values {
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("_sum: value %v is not a number", v)
		}
		sum += f
	}
	return sum, nil
}

func reduceStats(keys []interface{}, values []interface{}, rereduce bool) (interface{}, error) {
	var sum, count, sumsqr float64
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if rereduce {
			s, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("_stats: cannot rereduce %v", v)
			}
			vs, _ := toFloat(s["sum"])
			vc, _ := toFloat(s["count"])
			vmin, _ := toFloat(s["min"])
			vmax, _ := toFloat(s["max"])
			vsq, _ := toFloat(s["sumsqr"])
			sum += vs
			count += vc
			sumsqr += vsq
			min = math.Min(min, vmin)
			max = math.Max(max, vmax)
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("_stats: value %v is not a number", v)
		}
		sum += f
		count++
		sumsqr += f * f
		min = math.Min(min, f)
		max = math.Max(max, f)
	}
	if count == 0 {
		min, max = 0, 0
	}
	return map[string]interface{}{
		"sum":    sum,
		"count":  count,
		"min":    min,
		"max":    max,
		"sumsqr": sumsqr,
	}, nil
}
