package authority

import (
	"context"

	"github.com/corral-shuffle/tracker/mapoutput"
)

// pendingRequest is the (shuffleId, replyContext) pair enqueued by the RPC
// entry point and consumed by the dispatcher pool.
type pendingRequest struct {
	ShuffleID int32
	Reply     chan rpcReply
}

type rpcReply struct {
	Data []byte
	Err  error
}

// RequestMapOutputStatuses answers a GetMapOutputStatuses(shuffleId) RPC.
// The call never runs on the caller's goroutine past the enqueue: it's
// serviced by one of the dispatcher pool's message loops, keeping
// GetMapOutputStatuses off the transport's own thread pool.
func (a *TrackerAuthority) RequestMapOutputStatuses(ctx context.Context, shuffleID int32) ([]byte, error) {
	req := pendingRequest{ShuffleID: shuffleID, Reply: make(chan rpcReply, 1)}
	a.queue.put(req)

	select {
	case reply := <-req.Reply:
		return reply.Data, reply.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start launches numThreads message-loop goroutines consuming the request
// queue. numThreads <= 0 falls back to Config.DispatcherThreads, then to
// DefaultDispatcherThreads if that is also unset.
func (a *TrackerAuthority) Start(numThreads int) {
	if numThreads <= 0 {
		numThreads = a.dispatcherThreads
	}
	if numThreads <= 0 {
		numThreads = DefaultDispatcherThreads
	}
	a.loopWG.Add(numThreads)
	for i := 0; i < numThreads; i++ {
		go a.messageLoop(i)
	}
}

// messageLoop is one dispatcher-pool consumer. It runs until it dequeues the
// poison pill, at which point it re-offers the pill (so the next of the N
// consumers also sees it) and exits — cascading shutdown to a pool whose
// size the shutter doesn't need to know.
func (a *TrackerAuthority) messageLoop(id int) {
	defer a.loopWG.Done()
	log := a.log.WithField("dispatcher", id)
	for {
		req := a.queue.take()
		if req.ShuffleID == poisonShuffleID {
			a.queue.put(req)
			return
		}

		data, err := a.handleGetMapOutputStatuses(req.ShuffleID)
		select {
		case req.Reply <- rpcReply{Data: data, Err: err}:
		default:
			// Reply buffer is always size 1 and written at most
			// once, so the send above succeeds even for a caller
			// that gave up (ctx canceled) and will never read it;
			// this branch only keeps the loop from ever blocking.
		}
		if err != nil {
			log.WithError(err).WithField("shuffleId", req.ShuffleID).
				Debug("authority: request failed")
		}
	}
}

func (a *TrackerAuthority) handleGetMapOutputStatuses(shuffleID int32) ([]byte, error) {
	status, ok := a.lookup(shuffleID)
	if !ok {
		// An absent shuffleId replies with an explicit UnknownShuffle
		// error so the worker fails fast instead of waiting out its
		// RPC timeout.
		return nil, &mapoutput.ErrUnknownShuffle{ShuffleID: shuffleID}
	}
	return status.SerializedMapStatus(a.broadcastMgr, a.localMode, a.minSizeForBroadcast)
}

// Stop posts the poison pill and blocks until every dispatcher loop has
// exited, then releases all catalogs. The transport-specific step of
// notifying itself to stop accepting requests belongs to the RPC layer
// (internal/rpcx), not here.
func (a *TrackerAuthority) Stop(ctx context.Context) error {
	a.queue.put(pendingRequest{ShuffleID: poisonShuffleID})

	done := make(chan struct{})
	go func() {
		a.loopWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.dirMu.Lock()
	a.directory = nil
	a.dirMu.Unlock()
	return nil
}

