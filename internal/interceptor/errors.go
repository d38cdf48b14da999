package interceptor

import "errors"

var (
	// ErrNetwork 表示上游请求失败（连接错误、超时、读取正文失败）。
	ErrNetwork = errors.New("network failure")
	// ErrInstall 表示批量预缓存失败，本次代数不会被激活。
	ErrInstall = errors.New("install failed")
	// ErrCacheWrite 表示写入缓存代数失败。
	ErrCacheWrite = errors.New("cache write failed")
	// ErrInvalidState 表示在当前生命周期状态下不允许该操作。
	ErrInvalidState = errors.New("invalid interceptor state")
)
