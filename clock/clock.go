// Package clock 提供可注入的时间源.
//
// 生产代码使用 Real，测试使用 Manual 手动推进时间.
package clock

import "time"

// Clock 时间源接口.
type Clock interface {
	// Now 返回当前时间.
	Now() time.Time
	// After 在 d 之后向返回的 channel 发送当时的时间.
	After(d time.Duration) <-chan time.Time
}

// Real 返回基于系统时间的 Clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// OrReal 在 c 为 nil 时返回 Real().
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
