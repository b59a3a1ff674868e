package echorelay

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// RelayQueue - ограниченная FIFO очередь чанков между read и write горутинами
// одного соединения.
//
// Push блокируется, пока очередь заполнена, Pop - пока она пуста. Обе операции
// прерываются отменой контекста (ErrQueueCancelled) и закрытием очереди
// (ErrQueueClosed). Количество чанков в очереди никогда не превышает ёмкость.
type RelayQueue struct {
	mu       sync.Mutex
	items    *queue.Queue // Chunk
	capacity int
	peak     int
	sealed   bool
	closed   bool

	// Каналы с буфером 1 служат сигналами "появилось место" и "появились данные".
	// Лишний сигнал безопасен: ожидающая сторона просто перепроверит состояние.
	notFull  chan struct{}
	notEmpty chan struct{}
	done     chan struct{}
}

// NewRelayQueue создает очередь указанной ёмкости.
// Если capacity <= 0, используется DefaultQueueCapacity.
func NewRelayQueue(capacity int) *RelayQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &RelayQueue{
		items:    queue.New(),
		capacity: capacity,
		notFull:  make(chan struct{}, 1),
		notEmpty: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push добавляет чанк в конец очереди, ожидая свободного места.
// Запечатанная или закрытая очередь возвращает ErrQueueClosed.
func (q *RelayQueue) Push(ctx context.Context, c Chunk) error {
	for {
		q.mu.Lock()
		if q.closed || q.sealed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.items.Length() < q.capacity {
			q.items.Add(c)
			if n := q.items.Length(); n > q.peak {
				q.peak = n
			}
			q.mu.Unlock()
			signal(q.notEmpty)
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.notFull:
		case <-ctx.Done():
			return ErrQueueCancelled
		case <-q.done:
			return ErrQueueClosed
		}
	}
}

// Pop извлекает чанк из начала очереди, ожидая его появления.
// Для запечатанной очереди Pop отдает оставшиеся чанки, затем возвращает ErrQueueClosed.
func (q *RelayQueue) Pop(ctx context.Context) (Chunk, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Chunk{}, ErrQueueClosed
		}
		if q.items.Length() > 0 {
			c := q.items.Remove().(Chunk)
			q.mu.Unlock()
			signal(q.notFull)
			return c, nil
		}
		sealed := q.sealed
		q.mu.Unlock()
		if sealed {
			return Chunk{}, ErrQueueClosed
		}

		select {
		case <-q.notEmpty:
		case <-ctx.Done():
			return Chunk{}, ErrQueueCancelled
		case <-q.done:
			return Chunk{}, ErrQueueClosed
		}
	}
}

// Seal запрещает новые Push, но позволяет дочитать уже накопленные чанки.
func (q *RelayQueue) Seal() {
	q.mu.Lock()
	q.sealed = true
	q.mu.Unlock()
	signal(q.notEmpty)
	signal(q.notFull)
}

// Close будит все ожидающие операции. Идемпотентен.
func (q *RelayQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Drain отбрасывает все оставшиеся чанки и возвращает их количество.
func (q *RelayQueue) Drain() int {
	q.mu.Lock()
	n := q.items.Length()
	for q.items.Length() > 0 {
		q.items.Remove()
	}
	q.mu.Unlock()
	if n > 0 {
		signal(q.notFull)
	}
	return n
}

// Len возвращает текущее количество чанков в очереди.
func (q *RelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Cap возвращает ёмкость очереди.
func (q *RelayQueue) Cap() int {
	return q.capacity
}

// Peak возвращает максимальное количество чанков, одновременно находившихся в очереди.
func (q *RelayQueue) Peak() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peak
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
