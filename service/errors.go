package service

import "errors"

// 业务错误分类，handler 层据此映射 HTTP 状态码。
// 服务内部统一用 fmt.Errorf("%w: ...") 包装，调用方用 errors.Is 判断。
var (
	ErrInvalidRequest  = errors.New("invalid request")  // 非法输入（空内容、给自己发请求等）
	ErrConflict        = errors.New("conflict")         // 两人之间已存在好友关系记录
	ErrNotFound        = errors.New("not found")        // 好友关系/会话不存在
	ErrForbidden       = errors.New("forbidden")        // 当前用户无权操作该关系/会话
	ErrAlreadyResolved = errors.New("already resolved") // 请求已被处理，状态不再是 pending
)
