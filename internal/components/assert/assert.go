// Package assert panics on programmer errors, it is never used for input validation.
package assert

import "fmt"

func NotNil(value any, name ...string) {
	if value == nil {
		if len(name) > 0 {
			panic(fmt.Sprintf("expected %s to be not nil", name[0]))
		}
		panic("expected value to be not nil")
	}
}

func NotEmptyStr(str string, name ...string) {
	if str == "" {
		if len(name) > 0 {
			panic(fmt.Sprintf("expected %s to be non-empty", name[0]))
		}
		panic("expected string to be non-empty")
	}
}

func Positive[T ~int | ~int64 | ~float64](value T, name string) {
	if value <= 0 {
		panic(fmt.Sprintf("expected %s to be positive, got %v", name, value))
	}
}
