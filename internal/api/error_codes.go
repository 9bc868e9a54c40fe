// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 资源
	ErrorScenarioNotFound  = "SCENARIO_NOT_FOUND"
	ErrorCharacterNotFound = "CHARACTER_NOT_FOUND"

	// 对话流水线
	ErrorTurnInProgress  = "TURN_IN_PROGRESS"
	ErrorSessionBusy     = "SESSION_BUSY"
	ErrorImageInProgress = "IMAGE_IN_PROGRESS"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorConnectionFailed      = "CONNECTION_TEST_FAILED"
	ErrorUpstreamFailed        = "UPSTREAM_FAILED"
	ErrorUpstreamTimeout       = "UPSTREAM_TIMEOUT"
)
