package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
)

const (
	shipBuffer    = 1000
	shipBatchSize = 200
	shipTimeout   = 15 * time.Second
)

// ingester is the part of *axiom.Client the shipper uses.
type ingester interface {
	IngestEvents(ctx context.Context, dataset string, events []axiom.Event, options ...ingest.Option) (*ingest.Status, error)
}

// shipper is a zerolog.LevelWriter that batches info+ events to an Axiom dataset.
// A full buffer drops events rather than blocking the caller.
type shipper struct {
	dst     ingester
	dataset string
	queue   chan axiom.Event
	dropped atomic.Int64
	failed  atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newAxiomShipper(token, orgID, dataset string, every time.Duration) (*shipper, error) {
	opts := []axiom.Option{axiom.SetToken(token)}
	if orgID != "" {
		opts = append(opts, axiom.SetOrganizationID(orgID))
	}
	c, err := axiom.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	if dataset == "" {
		dataset = "dev_" + serviceName
	}
	return startShipper(c, dataset, every), nil
}

func startShipper(dst ingester, dataset string, every time.Duration) *shipper {
	if every <= 0 {
		every = 10 * time.Second
	}
	s := &shipper{
		dst:     dst,
		dataset: dataset,
		queue:   make(chan axiom.Event, shipBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run(every)
	return s
}

func (s *shipper) Write(p []byte) (int, error) {
	return s.WriteLevel(zerolog.InfoLevel, p)
}

func (s *shipper) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.InfoLevel {
		return len(p), nil
	}
	ev := axiom.Event{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = axiom.Event{"message": string(p), "level": level.String()}
	}
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
	}
	return len(p), nil
}

func (s *shipper) run(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	batch := make([]axiom.Event, 0, shipBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), shipTimeout)
		if _, err := s.dst.IngestEvents(ctx, s.dataset, batch); err != nil {
			s.failed.Add(int64(len(batch)))
		}
		cancel()
		batch = batch[:0]
	}
	for {
		select {
		case <-s.stop:
			for {
				select {
				case ev := <-s.queue:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		case <-ticker.C:
			flush()
		case ev := <-s.queue:
			batch = append(batch, ev)
			if len(batch) >= shipBatchSize {
				flush()
			}
		}
	}
}

// Close flushes queued events and stops the shipper. It reports lost events on stderr
// since the logger itself may be gone by then.
func (s *shipper) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		if d, f := s.dropped.Load(), s.failed.Load(); d > 0 || f > 0 {
			fmt.Fprintf(os.Stderr, "axiom: %d events dropped, %d failed to ingest\n", d, f)
		}
	})
}
