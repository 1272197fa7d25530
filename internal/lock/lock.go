// Package lock 提供按会话 ID 串行化的互斥锁
package lock

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Locker 按 key 加锁，返回的 unlock 只能调用一次
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

const defaultStripes = 256

// StripedLocker 进程内分段锁，key 经 xxhash 映射到固定数量的互斥锁
type StripedLocker struct {
	stripes []chan struct{}
}

var _ Locker = (*StripedLocker)(nil)

func NewStripedLocker(n int) *StripedLocker {
	if n <= 0 {
		n = defaultStripes
	}
	l := &StripedLocker{stripes: make([]chan struct{}, n)}
	for i := range l.stripes {
		l.stripes[i] = make(chan struct{}, 1)
	}
	return l
}

func (l *StripedLocker) stripe(key string) chan struct{} {
	return l.stripes[xxhash.Sum64String(key)%uint64(len(l.stripes))]
}

// Lock 可被 ctx 取消
func (l *StripedLocker) Lock(ctx context.Context, key string) (func(), error) {
	s := l.stripe(key)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-s }) }, nil
}
