// internal/conversation/state.go
package conversation

// TurnState 文本生成管线状态
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnAwaitingResponse
)

func (s TurnState) String() string {
	if s == TurnAwaitingResponse {
		return "awaiting_response"
	}
	return "idle"
}

// CompressionState 记忆压缩管线状态
type CompressionState int

const (
	CompressionIdle CompressionState = iota
	Compressing
)

func (s CompressionState) String() string {
	if s == Compressing {
		return "compressing"
	}
	return "idle"
}

// ImageState 场景图像管线状态
type ImageState int

const (
	ImageIdle ImageState = iota
	ImageGenerating
)

func (s ImageState) String() string {
	if s == ImageGenerating {
		return "generating"
	}
	return "idle"
}

// MarshalText lets the states appear as strings in JSON.
func (s TurnState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// MarshalText lets the states appear as strings in JSON.
func (s CompressionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// MarshalText lets the states appear as strings in JSON.
func (s ImageState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
