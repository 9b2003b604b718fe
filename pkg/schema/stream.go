package schema

import (
	"io"
	"sync"
)

// StreamReader 流式数据读取器
type StreamReader[T any] struct {
	ch     chan streamItem[T]
	done   chan struct{}
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// StreamWriter 流式数据写入器
type StreamWriter[T any] struct {
	ch     chan streamItem[T]
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

type streamItem[T any] struct {
	value T
	err   error
}

// Pipe 创建一个流式管道，返回 Reader 和 Writer
func Pipe[T any](bufferSize int) (*StreamReader[T], *StreamWriter[T]) {
	ch := make(chan streamItem[T], bufferSize)
	done := make(chan struct{})
	return &StreamReader[T]{ch: ch, done: done}, &StreamWriter[T]{ch: ch, done: done}
}

// Recv 从流中读取下一个元素
// 当流结束时返回 io.EOF；写入端带错误发送时返回该错误
func (r *StreamReader[T]) Recv() (T, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		var zero T
		return zero, io.EOF
	}
	r.mu.Unlock()

	item, ok := <-r.ch
	if !ok {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		var zero T
		return zero, io.EOF
	}

	return item.value, item.err
}

// Close 关闭读取器，阻塞中的写入端随之解除阻塞
func (r *StreamReader[T]) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.once.Do(func() { close(r.done) })
	return nil
}

// Send 向流中写入一个元素（可携带错误）
// 返回 true 表示对端已关闭，写入被丢弃
func (w *StreamWriter[T]) Send(value T, err error) (closed bool) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return true
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		// 读取端已关闭，不再接收
		return true
	case w.ch <- streamItem[T]{value: value, err: err}:
		return false
	}
}

// Close 关闭写入端，读取端随后收到 io.EOF
func (w *StreamWriter[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	return nil
}
