package supmcu

// BusTransport is the byte-level contract of an I2C master or serial
// master. Implementations live in internal/transport; errors they return
// are passed to callers unchanged.
type BusTransport interface {
	Write(addr uint16, data []byte) error
	Read(addr uint16, n int) ([]byte, error)
}
