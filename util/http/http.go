package http

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 描述一次 HTTP 调用
//
// Body 支持 nil、io.Reader、[]byte、string，其余类型按 JSON 序列化。
// Response 为 *[]byte 时保存原始响应体，否则按 JSON 反序列化；为 nil 时丢弃响应体。
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Query      map[string]string
	Body       interface{}
	Response   interface{}

	Timeout time.Duration
}
