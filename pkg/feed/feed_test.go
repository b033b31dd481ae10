package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockPublisher 记录调用次数
type mockPublisher struct {
	calls int32
	err   error
}

func (m *mockPublisher) Publish(ctx context.Context, e Entry) error {
	atomic.AddInt32(&m.calls, 1)
	return m.err
}

func TestFeed_AppendFillsIDAndTime(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	f := New(10, zap.NewNop(), WithClock(func() time.Time { return fixed }))

	e := f.Append(context.Background(), NewEntry(TypeMint, "u1", "a1", "minted", nil))

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, fixed, e.At)
	require.Len(t, f.Recent(0), 1)
}

func TestFeed_RingBound(t *testing.T) {
	f := New(5, nil)
	for i := 0; i < 12; i++ {
		f.Append(context.Background(), NewEntry(TypeWin, "", "", fmt.Sprintf("m%d", i), nil))
	}

	all := f.Recent(0)
	require.Len(t, all, 5)
	assert.Equal(t, "m7", all[0].Message)
	assert.Equal(t, "m11", all[4].Message)

	last2 := f.Recent(2)
	assert.Equal(t, "m10", last2[0].Message)
}

func TestFeed_PersistOnlyUserEntries(t *testing.T) {
	var persisted []Entry
	f := New(10, nil, WithPersist(func(e Entry) { persisted = append(persisted, e) }))

	f.Append(context.Background(), NewEntry(TypeLiquidation, "", "bot-1", "bot down", nil))
	f.Append(context.Background(), NewEntry(TypeLiquidation, "u1", "a1", "rekt", Amount(-100)))

	require.Len(t, persisted, 1)
	assert.Equal(t, "u1", persisted[0].UserID)
	assert.Equal(t, -100.0, *persisted[0].Amount)
}

func TestFeed_PublisherErrorDoesNotBlock(t *testing.T) {
	bad := &mockPublisher{err: errors.New("broker down")}
	good := &mockPublisher{}
	f := New(10, nil, WithPublisher(bad), WithPublisher(good), WithPublisher(nil))

	f.Append(context.Background(), NewEntry(TypeExit, "u1", "a1", "exit", nil))

	assert.Equal(t, int32(1), atomic.LoadInt32(&bad.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&good.calls))
	assert.Len(t, f.Recent(0), 1)
}

func TestFeed_ForUser(t *testing.T) {
	f := New(10, nil)
	f.Append(context.Background(), NewEntry(TypeMint, "u1", "", "1", nil))
	f.Append(context.Background(), NewEntry(TypeMint, "u2", "", "2", nil))
	f.Append(context.Background(), NewEntry(TypeMint, "u1", "", "3", nil))

	got := f.ForUser("u1", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].Message)
	assert.Equal(t, "3", got[1].Message)

	assert.Len(t, f.ForUser("u1", 1), 1)
	assert.Equal(t, "3", f.ForUser("u1", 1)[0].Message)
}

func TestFeed_SubscribeNonBlocking(t *testing.T) {
	f := New(10, nil)
	ch := f.Subscribe(1)

	f.Append(context.Background(), NewEntry(TypeMint, "", "", "first", nil))
	f.Append(context.Background(), NewEntry(TypeMint, "", "", "dropped", nil))

	got := <-ch
	assert.Equal(t, "first", got.Message)

	f.Close()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "arena.feed.liquidation", Subject("arena.feed", TypeLiquidation))
}
