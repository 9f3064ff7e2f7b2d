package pointer

func Uint64(value uint64) *uint64 {
	return &value
}
