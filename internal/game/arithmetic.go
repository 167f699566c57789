package game

import (
	"fmt"
	"math"
)

func addInt64AndU64Checked(base int64, delta uint64, field string) (int64, error) {
	if delta > math.MaxInt64 {
		return 0, fmt.Errorf("%s delta overflows int64", field)
	}
	d := int64(delta)
	if base > 0 && d > math.MaxInt64-base {
		return 0, fmt.Errorf("%s overflows int64", field)
	}
	return base + d, nil
}

func addUint64Checked(a uint64, b uint64, field string) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, fmt.Errorf("%s overflows uint64", field)
	}
	return a + b, nil
}
