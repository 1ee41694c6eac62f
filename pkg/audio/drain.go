package audio

// Drain consumes ch until it is closed so its producer never blocks.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
