package echorelay

// Chunk - неизменяемый блок байт, полученный одним чтением из сокета.
// Чанк всегда владеет собственной копией данных: буфер чтения
// переиспользуется, а чанк передается через очередь писателю.
type Chunk struct {
	data []byte
}

// newChunk копирует ровно len(b) байт в новый чанк.
func newChunk(b []byte) Chunk {
	data := make([]byte, len(b))
	copy(data, b)
	return Chunk{data: data}
}

// Len возвращает размер чанка в байтах.
func (c Chunk) Len() int {
	return len(c.data)
}

// Bytes возвращает содержимое чанка. Изменять результат нельзя.
func (c Chunk) Bytes() []byte {
	return c.data
}
