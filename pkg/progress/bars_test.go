package progress

import "testing"

func TestQuietBarsNeverPanics(t *testing.T) {
	bars := NewBars(true)
	bar := bars.NewReplBar("my-repl")
	bar.SetTotal(10)
	bar.Increment()
	bar.Done()
	bars.Wait()
}
