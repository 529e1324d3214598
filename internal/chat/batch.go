package chat

import (
	"strings"
	"time"
)

// batchChunks coalesces stream chunks: a batch is emitted once minSize
// bytes have accumulated or interval has passed, whichever first. Residue
// is always flushed before the output closes, so no text is lost ahead of
// stream_end.
func batchChunks(in <-chan string, minSize int, interval time.Duration) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		var buf strings.Builder
		timer := time.NewTimer(interval)
		defer timer.Stop()

		flush := func() {
			if buf.Len() == 0 {
				return
			}
			out <- buf.String()
			buf.Reset()
		}
		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					flush()
					return
				}
				buf.WriteString(chunk)
				if buf.Len() >= minSize {
					flush()
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(interval)
				}
			case <-timer.C:
				flush()
				timer.Reset(interval)
			}
		}
	}()
	return out
}
