package client

import (
	"go.uber.org/zap"

	"github.com/snehjoshi/estream/pkg/api"
	"github.com/snehjoshi/estream/pkg/future"
)

// streamClient is the retry-resilient api.StreamClient. Its futures are
// never resolved with a substrate failure: the only error they can carry
// is api.ErrClientClosed when Close cuts a retry loop short.
type streamClient struct {
	c     *Client
	inner api.StreamClient
}

var _ api.StreamClient = (*streamClient)(nil)

// CreateAndOpenStream asks the substrate for a fresh stream, retrying on
// the stream-retry scheduler until it succeeds.
func (s *streamClient) CreateAndOpenStream(opts api.CreateStreamOptions) *future.Future[api.Stream] {
	f := future.New[api.Stream]()
	untrack := s.c.track(func(err error) { f.Fail(err) })
	f.WhenComplete(nil, func(api.Stream, error) { untrack() })

	s.createAndOpen(opts, f)
	return f
}

func (s *streamClient) createAndOpen(opts api.CreateStreamOptions, f *future.Future[api.Stream]) {
	s.inner.CreateAndOpenStream(opts).WhenComplete(s.c.streamCallbacks, func(st api.Stream, err error) {
		future.Suppress(s.c.log, func() {
			if err == nil {
				f.Complete(newStreamHandle(s.c, st))
				return
			}
			if s.c.closing() {
				f.Fail(api.ErrClientClosed)
				return
			}
			s.c.log.Error("create and open stream failed, retrying",
				zap.Error(err),
				zap.Duration("backoff", s.c.cfg.RetryDelay),
			)
			s.c.reg.RecordCreateRetry("create")
			s.c.streamRetry.After(s.c.cfg.RetryDelay, func() {
				if s.c.closing() {
					f.Fail(api.ErrClientClosed)
					return
				}
				s.createAndOpen(opts, f)
			})
		})
	})
}

// OpenStream reopens an existing stream, retrying on the stream-retry
// scheduler until it succeeds.
func (s *streamClient) OpenStream(streamID int64, opts api.OpenStreamOptions) *future.Future[api.Stream] {
	f := future.New[api.Stream]()
	untrack := s.c.track(func(err error) { f.Fail(err) })
	f.WhenComplete(nil, func(api.Stream, error) { untrack() })

	s.open(streamID, opts, f)
	return f
}

func (s *streamClient) open(streamID int64, opts api.OpenStreamOptions, f *future.Future[api.Stream]) {
	s.inner.OpenStream(streamID, opts).WhenComplete(s.c.streamCallbacks, func(st api.Stream, err error) {
		future.Suppress(s.c.log, func() {
			if err == nil {
				f.Complete(newStreamHandle(s.c, st))
				return
			}
			if s.c.closing() {
				f.Fail(api.ErrClientClosed)
				return
			}
			s.c.log.Error("open stream failed, retrying",
				zap.Int64("stream", streamID),
				zap.Error(err),
				zap.Duration("backoff", s.c.cfg.RetryDelay),
			)
			s.c.reg.RecordCreateRetry("open")
			s.c.streamRetry.After(s.c.cfg.RetryDelay, func() {
				if s.c.closing() {
					f.Fail(api.ErrClientClosed)
					return
				}
				s.open(streamID, opts, f)
			})
		})
	})
}
