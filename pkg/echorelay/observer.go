package echorelay

// Direction - направление передачи байт относительно сервера.
type Direction uint8

const (
	// DirectionIn - байты прочитаны из сокета клиента.
	DirectionIn Direction = iota
	// DirectionOut - байты записаны обратно клиенту.
	DirectionOut
)

func (d Direction) String() string {
	if d == DirectionOut {
		return "out"
	}
	return "in"
}

// ConnInfo идентифицирует соединение в событиях Observer.
type ConnInfo struct {
	ID   uint64
	Addr string
}

// Observer получает структурированные события сервера.
// Сервер сам не форматирует и никуда не пишет эти события:
// это задача внешнего слоя логов или метрик (см. пакет telemetry).
//
// Методы вызываются конкурентно из горутин разных соединений
// и не должны блокироваться надолго.
type Observer interface {
	// ConnectionAccepted вызывается после регистрации нового соединения.
	ConnectionAccepted(conn ConnInfo)

	// ConnectionClosed вызывается ровно один раз на соединение,
	// после остановки обеих его горутин. err содержит исходную ошибку, если она была.
	ConnectionClosed(conn ConnInfo, reason CloseReason, err error)

	// BytesRelayed вызывается на каждый чанк, принятый в очередь (in) или полностью записанный клиенту (out).
	BytesRelayed(conn ConnInfo, dir Direction, n int)

	// AcceptError вызывается при ошибке accept.
	AcceptError(err error, transient bool)
}

// NopObserver игнорирует все события.
type NopObserver struct{}

func (NopObserver) ConnectionAccepted(ConnInfo)                   {}
func (NopObserver) ConnectionClosed(ConnInfo, CloseReason, error) {}
func (NopObserver) BytesRelayed(ConnInfo, Direction, int)         {}
func (NopObserver) AcceptError(error, bool)                       {}
