package writebuffer

// CacheReservation is the charging contract of a shared block cache.
// The manager mirrors its memory usage into the cache as opaque dummy
// reservations, rounded up to a coarse step so resizing is rare. The
// cache itself is an external collaborator.
type CacheReservation interface {
	// UpdateReservation resizes the total dummy reservation held on
	// behalf of the manager.
	UpdateReservation(total uint64) error
	// Reserved returns the bytes currently reserved.
	Reserved() uint64
}

// cacheReservationStep is the dummy-entry granularity.
const cacheReservationStep = 256 * 1024

func roundUpToStep(v uint64) uint64 {
	return (v + cacheReservationStep - 1) / cacheReservationStep * cacheReservationStep
}
