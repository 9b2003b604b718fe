package errors

// ErrCode 业务错误码类型
type ErrCode int

const (
	// 通用错误 1000-1999
	ErrInvalidParameter ErrCode = 1001 // 参数错误
	ErrUnauthorized     ErrCode = 1002 // 未授权
	ErrInternalError    ErrCode = 1003 // 内部错误
	ErrNotFound         ErrCode = 1004 // 资源未找到
	ErrAlreadyExists    ErrCode = 1005 // 资源已存在
	ErrOperationFailed  ErrCode = 1006 // 操作失败

	// 会话/轮次相关 2000-2999
	ErrSessionNotFound      ErrCode = 2001 // 会话未找到
	ErrChatNotFound         ErrCode = 2002 // 对话轮次未找到
	ErrInvalidTransition    ErrCode = 2003 // 非法状态流转
	ErrSequenceAllocation   ErrCode = 2004 // 轮次序号分配失败
	ErrSessionDeleteFailed  ErrCode = 2005 // 会话删除失败
	ErrProductNotSubscribed ErrCode = 2006 // 产品未订阅

	// 模型调用相关 3000-3999
	ErrModelNotConfigured ErrCode = 3001 // 模型未配置
	ErrUpstreamResponse   ErrCode = 3002 // 上游响应异常（非2xx或流格式错误）
	ErrFirstByteTimeout   ErrCode = 3003 // 首字节超时
	ErrStreamingFailed    ErrCode = 3004 // 流式响应失败
	ErrRoundLimitExceeded ErrCode = 3005 // 工具调用轮次超限

	// MCP相关 4000-4999
	ErrMCPServerNotFound ErrCode = 4001 // MCP服务未找到
	ErrMCPInitFailed     ErrCode = 4002 // MCP初始化失败
	ErrMCPCallFailed     ErrCode = 4003 // MCP调用失败
	ErrToolNotFound      ErrCode = 4004 // 工具未注册
	ErrMCPNoEndpoint     ErrCode = 4005 // 无可用MCP接入点

	// 数据库相关 6000-6999
	ErrDatabaseQuery  ErrCode = 6001 // 数据库查询失败
	ErrDatabaseInsert ErrCode = 6002 // 数据库插入失败
	ErrDatabaseUpdate ErrCode = 6003 // 数据库更新失败
	ErrDatabaseDelete ErrCode = 6004 // 数据库删除失败
	ErrDatabaseInit   ErrCode = 6005 // 数据库初始化失败

	// 未知错误
	ErrUnknown ErrCode = 9999
)

// HTTPStatusCode 返回错误码对应的HTTP状态码
func (e ErrCode) HTTPStatusCode() int {
	switch {
	case e >= 1001 && e <= 1999:
		switch e {
		case ErrInvalidParameter:
			return 400
		case ErrUnauthorized:
			return 401
		case ErrNotFound:
			return 404
		case ErrAlreadyExists:
			return 409
		default:
			return 500
		}
	case e >= 2000 && e <= 2999:
		switch e {
		case ErrSessionNotFound, ErrChatNotFound:
			return 404
		case ErrInvalidTransition:
			return 409
		default:
			return 500
		}
	case e >= 3000 && e <= 3999:
		if e == ErrFirstByteTimeout {
			return 504
		}
		return 502
	case e >= 4000 && e <= 4999:
		if e == ErrMCPServerNotFound || e == ErrToolNotFound {
			return 404
		}
		return 502
	default:
		return 500
	}
}

// Kind 面向调用方的错误大类，用于流式 ERROR 事件
type Kind string

const (
	KindUpstreamResponse Kind = "UpstreamResponseError"
	KindTimeout          Kind = "Timeout"
	KindToolResolution   Kind = "ToolResolutionError"
	KindToolExecution    Kind = "ToolExecutionError"
	KindUnknown          Kind = "Unknown"
)

// KindOf 将任意错误归入调用方可见的错误大类
func KindOf(err error) Kind {
	appErr := GetAppError(err)
	if appErr == nil {
		return KindUnknown
	}
	switch appErr.Code {
	case ErrUpstreamResponse, ErrStreamingFailed:
		return KindUpstreamResponse
	case ErrFirstByteTimeout:
		return KindTimeout
	case ErrToolNotFound:
		return KindToolResolution
	case ErrMCPCallFailed, ErrMCPInitFailed, ErrMCPServerNotFound:
		return KindToolExecution
	default:
		return KindUnknown
	}
}
