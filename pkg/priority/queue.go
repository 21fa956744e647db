package priority

import (
	"context"
	"sync/atomic"
	"time"
)

type Stats struct {
	HighPush int64
	LowPush  int64
	HighPop  int64
	LowPop   int64
}

// PriorityQueue is a two-lane frame queue. Control and boundary signals
// ride the high lane so a speech-stop is never stuck behind buffered
// audio; audio chunks ride the low lane and may be dropped under load.
type PriorityQueue struct {
	high     chan any
	low      chan any
	fairness int
	highPush atomic.Int64
	lowPush  atomic.Int64
	highPop  atomic.Int64
	lowPop   atomic.Int64
}

func New(highCap, lowCap, fairness int) *PriorityQueue {
	if fairness <= 0 {
		fairness = 3
	}
	return &PriorityQueue{
		high:     make(chan any, highCap),
		low:      make(chan any, lowCap),
		fairness: fairness,
	}
}

func (q *PriorityQueue) TryPushHigh(f any) bool {
	select {
	case q.high <- f:
		q.highPush.Add(1)
		return true
	default:
		return false
	}
}

func (q *PriorityQueue) TryPushLow(f any) bool {
	select {
	case q.low <- f:
		q.lowPush.Add(1)
		return true
	default:
		return false
	}
}

// Pop blocks until an item is available, always preferring the high lane.
// Returns false once ctx is done.
func (q *PriorityQueue) Pop(ctx context.Context) (any, bool) {
	for {
		select {
		case f := <-q.high:
			q.highPop.Add(1)
			return f, true
		default:
		}
		select {
		case f := <-q.low:
			q.lowPop.Add(1)
			return f, true
		default:
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(time.Millisecond):
		}
	}
}

func (q *PriorityQueue) Stats() Stats {
	return Stats{
		HighPush: q.highPush.Load(),
		LowPush:  q.lowPush.Load(),
		HighPop:  q.highPop.Load(),
		LowPop:   q.lowPop.Load(),
	}
}
