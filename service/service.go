package service

import (
	"gokeep/session"
	"gokeep/writer"
)

// Service 同一记录类型的读写服务
type Service[T any, K comparable, U any] struct {
	*ReadService[T, K]
	*WriteService[T, K, U]
}

// New 在会话上组装写入管道与读写服务
func New[T any, K comparable, U any](s *session.Session, wcfg writer.Config[T, U], cfg Config[T]) *Service[T, K, U] {
	return &Service[T, K, U]{
		ReadService:  NewReadService[T, K](s),
		WriteService: NewWriteService(writer.New[T, K](s, wcfg), cfg),
	}
}
