package echorelay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// readChunk выполняет одно чтение в buf и копирует ровно прочитанные байты в новый чанк.
// Conn.Read может вернуть данные вместе с ошибкой, поэтому чанк возвращается и при err != nil.
func readChunk(r io.Reader, buf []byte) (Chunk, error) {
	n, err := r.Read(buf)
	if n <= 0 {
		return Chunk{}, err
	}
	return newChunk(buf[:n]), err
}

// writeChunk записывает чанк целиком, дописывая остаток после частичной записи.
// Возвращает количество записанных байт.
func writeChunk(w io.Writer, c Chunk) (int, error) {
	data := c.Bytes()
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// readLoop - задача чтения: сокет -> очередь.
// Возвращает nil при EOF от клиента, иначе ошибку, определяющую причину закрытия.
func (c *Connection) readLoop() error {
	c.logger.debug(LogLevelDebug2, "read loop started")
	defer c.logger.debug(LogLevelDebug2, "read loop stopped")

	buf := make([]byte, c.cfg.MaxChunkSize)
	for {
		if c.cfg.IdleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}
		// Проверка после установки deadline: супервизор сбрасывает deadline
		// уже после закрытия shutdownCh, поэтому сигнал не теряется.
		if c.IsShuttingDown() {
			return ErrQueueClosed
		}

		chunk, err := readChunk(c.conn, buf)
		if chunk.Len() > 0 {
			c.logger.debug(LogLevelDebug3, "chunk read", "bytes", chunk.Len())

			if perr := c.queue.Push(c.ctx, chunk); perr != nil {
				return perr
			}
			c.observer.BytesRelayed(c.info, DirectionIn, chunk.Len())
		}
		if err != nil {
			return c.readError(err)
		}
	}
}

func (c *Connection) readError(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	if c.ctx.Err() != nil {
		return ErrQueueCancelled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if c.IsShuttingDown() {
			return ErrQueueClosed
		}
		return fmt.Errorf("%w: read: %w", ErrIdleTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrReadFailure, err)
}

// writeLoop - задача записи: очередь -> сокет.
// Возвращает nil, когда запечатанная очередь полностью отправлена.
func (c *Connection) writeLoop() error {
	c.logger.debug(LogLevelDebug2, "write loop started")
	defer c.logger.debug(LogLevelDebug2, "write loop stopped")

	for {
		chunk, err := c.queue.Pop(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return ErrQueueCancelled
			}
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}

		if deadline, ok := c.writeDeadline(); ok {
			_ = c.conn.SetWriteDeadline(deadline)
		}

		n, err := writeChunk(c.conn, chunk)
		if err != nil {
			return c.writeError(err)
		}

		c.observer.BytesRelayed(c.info, DirectionOut, n)
		c.logger.debug(LogLevelDebug3, "chunk written", "bytes", n)
	}
}

func (c *Connection) writeError(err error) error {
	if c.ctx.Err() != nil {
		return ErrQueueCancelled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && c.flushDeadline.Load() == 0 {
		return fmt.Errorf("%w: write: %w", ErrIdleTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrWriteFailure, err)
}

// writeDeadline вычисляет deadline записи: idle таймаут или, если раньше, граница досылки.
func (c *Connection) writeDeadline() (time.Time, bool) {
	var deadline time.Time
	if c.cfg.IdleTimeout > 0 {
		deadline = time.Now().Add(c.cfg.IdleTimeout)
	}
	if ns := c.flushDeadline.Load(); ns != 0 {
		flush := time.Unix(0, ns)
		if deadline.IsZero() || flush.Before(deadline) {
			deadline = flush
		}
	}
	return deadline, !deadline.IsZero()
}
