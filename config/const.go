package config

// AppName 用于日志文件名等
const AppName = "logo-rembg"

const (
	// InputPath 待处理的 logo，处理成功后被原地覆盖
	InputPath = "public/airpublisher-logo.png"
	// OutputPath 中间产物，成功后 rename 到 InputPath
	OutputPath = "public/airpublisher-logo-no-bg.png"

	// Threshold r、g、b 均严格大于该值的像素视为背景
	Threshold uint8 = 240
)

// 环境变量
const (
	EnvComfyURL        = "LOGO_REMBG_COMFY_URL"
	EnvDisableFallback = "LOGO_REMBG_DISABLE_FALLBACK"
	EnvLogLevel        = "LOGO_REMBG_LOG_LEVEL"
	EnvLogFile         = "LOGO_REMBG_LOG_FILE"
)
