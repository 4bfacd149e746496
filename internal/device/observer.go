package device

import "github.com/luki/simtemp/internal/sample"

// Observer receives device events for instrumentation. Implementations must
// be cheap and non-blocking; ObserveSample runs on the producer.
type Observer interface {
	ObserveSample(s sample.Sample, enqueued bool, depth int)
	ObserveRead(err error)
	ObservePoll(ready bool)
}

type nopObserver struct{}

func (nopObserver) ObserveSample(sample.Sample, bool, int) {}
func (nopObserver) ObserveRead(error)                      {}
func (nopObserver) ObservePoll(bool)                       {}
