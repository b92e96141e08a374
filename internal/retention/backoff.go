package retention

import "time"

// parkDuration 超过重试上限后的停放时长，等待人工介入
const parkDuration = 365 * 24 * time.Hour

// maxErrorLength 失败原因的保存长度上限
const maxErrorLength = 2000

// RetryDelay 第 attempt 次失败后的重试间隔
// 序列为 1m, 5m, 25m, 125m, 625m，5 倍指数退避
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Minute
	for i := 1; i < attempt; i++ {
		delay *= 5
	}
	return delay
}

// truncateError 截断失败原因，避免超长错误撑爆存储
func truncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	return msg[:maxErrorLength]
}
