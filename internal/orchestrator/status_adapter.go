package orchestrator

import (
	"context"

	"github.com/local/writingtools/internal/store"
)

type redisStatusAdapter struct{ s *store.RedisStatus }

// NewStatusAdapter exposes a Redis status store as a StatusStore.
func NewStatusAdapter(s *store.RedisStatus) StatusStore { return &redisStatusAdapter{s: s} }

func (a *redisStatusAdapter) Set(ctx context.Context, id string, st Status) error {
	return a.s.Set(ctx, id, store.Status{
		State:     string(st.State),
		Operation: st.Operation,
		Provider:  st.Provider,
		Message:   st.Message,
		Start:     st.Start,
		End:       st.End,
		Metadata:  st.Metadata,
	})
}

func (a *redisStatusAdapter) Get(ctx context.Context, id string) (Status, bool, error) {
	st, ok, err := a.s.Get(ctx, id)
	if !ok || err != nil {
		return Status{}, ok, err
	}
	return Status{
		State:     State(st.State),
		Operation: st.Operation,
		Provider:  st.Provider,
		Message:   st.Message,
		Start:     st.Start,
		End:       st.End,
		Metadata:  st.Metadata,
	}, true, nil
}
