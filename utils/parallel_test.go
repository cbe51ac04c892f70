package utils

import (
	"sync/atomic"
	"testing"

	"go.viam.com/test"
)

func TestParallelFor(t *testing.T) {
	defer func(old int) { ParallelFactor = old }(ParallelFactor)
	ParallelFactor = 4

	for _, n := range []int{0, 1, 7, 64, 1000} {
		seen := make([]int32, n)
		var calls int32
		ParallelFor(n, func(i int) {
			atomic.AddInt32(&seen[i], 1)
			atomic.AddInt32(&calls, 1)
		})
		test.That(t, calls, test.ShouldEqual, int32(n))
		for i := 0; i < n; i++ {
			test.That(t, seen[i], test.ShouldEqual, int32(1))
		}
	}
}

func TestGroupWorkParallel(t *testing.T) {
	defer func(old int) { ParallelFactor = old }(ParallelFactor)
	ParallelFactor = 4

	var sum int64
	GroupWorkParallel(100, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		var local int64
		return func(memberNum, workNum int) {
				local += int64(workNum)
			}, func() {
				atomic.AddInt64(&sum, local)
			}
	})
	test.That(t, sum, test.ShouldEqual, int64(4950))
}
