package service

import "errors"

var (
	// ErrForbidden 调用方无权访问该资源
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound 资源不存在或不在调用方可见范围内
	ErrNotFound = errors.New("not found")
	// ErrMailboxLimitReached 用户在该域名下创建的地址已达上限
	ErrMailboxLimitReached = errors.New("mailbox limit reached")
	// ErrDuplicate 名称已被占用
	ErrDuplicate = errors.New("already exists")
	// ErrInvalidInput 输入不合法
	ErrInvalidInput = errors.New("invalid input")
	// ErrMissingSendFields 发信缺少必填字段
	ErrMissingSendFields = errors.New("missing required fields")
)
