package state

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"alats/internal/model"
	"alats/internal/model/enum"
	"alats/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

func sampleState() (model.RiskState, []model.Order) {
	risk := model.RiskState{
		Positions: map[string]model.Position{
			"BTC": {Qty: decimal.RequireFromString("0.5"), AvgPrice: decimal.RequireFromString("100.25")},
		},
		DailyRealizedPnL: decimal.RequireFromString("-12.5"),
		TradingDay:       "2026-03-02",
		Equity:           decimal.RequireFromString("9987.5"),
	}
	orders := []model.Order{{
		ID:        "o-1",
		Asset:     "BTC",
		Side:      enum.SideSell,
		Kind:      enum.OrderKindStop,
		Role:      enum.OrderRoleStopLoss,
		Qty:       decimal.RequireFromString("0.5"),
		Price:     decimal.RequireFromString("95.24"),
		Status:    enum.OrderStatusSubmitted,
		SiblingID: "o-2",
		CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}}
	return risk, orders
}

func TestFrameRoundTrip(t *testing.T) {
	risk, orders := sampleState()
	cp := Checkpoint{Seq: 42, CreatedAt: time.Date(2026, 3, 2, 10, 0, 1, 0, time.UTC), Reason: "fill", Risk: risk, Orders: orders}

	data, err := Encode(cp)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, cp.Seq, got.Seq)
	assert.True(t, cp.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, got.Risk.Equity.Equal(risk.Equity))
	assert.True(t, got.Risk.Positions["BTC"].AvgPrice.Equal(decimal.RequireFromString("100.25")))
	require.Len(t, got.Orders, 1)
	assert.Equal(t, enum.OrderRoleStopLoss, got.Orders[0].Role)
	assert.Equal(t, enum.OrderStatusSubmitted, got.Orders[0].Status)
	assert.True(t, got.Orders[0].Price.Equal(decimal.RequireFromString("95.24")))
}

func TestFrameRejectsCorruption(t *testing.T) {
	risk, orders := sampleState()
	data, err := Encode(Checkpoint{Seq: 1, Risk: risk, Orders: orders})
	require.NoError(t, err)

	flipped := append([]byte(nil), data...)
	flipped[frameHeaderSize+3] ^= 0xff
	_, err = Decode(flipped)
	assert.True(t, errors.Is(err, exception.ErrChecksumMismatch))

	_, err = Decode(data[:len(data)-1])
	assert.True(t, errors.Is(err, exception.ErrTruncated))

	badMagic := append([]byte(nil), data...)
	badMagic[0] = 'X'
	_, err = Decode(badMagic)
	assert.True(t, errors.Is(err, exception.ErrInvalidMagic))
}

func newFileStore(t *testing.T, retain int) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), retain)
	require.NoError(t, err)
	return s
}

func saveSeq(t *testing.T, s Store, seq uint64) {
	t.Helper()
	risk, orders := sampleState()
	data, err := Encode(Checkpoint{Seq: seq, Risk: risk, Orders: orders})
	require.NoError(t, err)
	require.NoError(t, s.SaveCheckpoint(t.Context(), seq, data))
}

func TestRecoverFallsBackToOlderCheckpoint(t *testing.T) {
	s := newFileStore(t, 0)
	for _, seq := range []uint64{5, 6, 7} {
		saveSeq(t, s, seq)
	}
	data, err := os.ReadFile(s.Path(7))
	require.NoError(t, err)
	data[len(data)/2] ^= 0x5a
	require.NoError(t, os.WriteFile(s.Path(7), data, 0o644))

	res, err := Recover(t.Context(), s)
	require.NoError(t, err)
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, uint64(6), res.Checkpoint.Seq)
	assert.Equal(t, uint64(7), res.Floor)
	assert.Equal(t, []uint64{7}, res.Skipped)
}

func TestRecoverDetectsSequenceMismatch(t *testing.T) {
	s := newFileStore(t, 0)
	saveSeq(t, s, 1)
	risk, orders := sampleState()
	data, err := Encode(Checkpoint{Seq: 9, Risk: risk, Orders: orders})
	require.NoError(t, err)
	require.NoError(t, s.SaveCheckpoint(t.Context(), 2, data))

	res, err := Recover(t.Context(), s)
	require.NoError(t, err)
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, uint64(1), res.Checkpoint.Seq)
}

func TestRecoverFreshStart(t *testing.T) {
	res, err := Recover(t.Context(), newFileStore(t, 0))
	require.NoError(t, err)
	assert.Nil(t, res.Checkpoint)
	assert.Zero(t, res.Floor)
}

func TestFileStoreRetention(t *testing.T) {
	s := newFileStore(t, 2)
	for seq := uint64(1); seq <= 5; seq++ {
		saveSeq(t, s, seq)
	}
	seqs, err := s.sequences()
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 5}, seqs)

	seq, _, err := s.LoadLatestCheckpoint(t.Context(), 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)

	_, _, err = s.LoadLatestCheckpoint(t.Context(), 4)
	assert.True(t, errors.Is(err, exception.ErrNoCheckpoint))
}

func TestFileStoreArchive(t *testing.T) {
	s := newFileStore(t, 0)
	_, orders := sampleState()
	require.NoError(t, s.Archive(t.Context(), orders[0]))
	require.NoError(t, s.Archive(t.Context(), orders[0]))

	data, err := os.ReadFile(s.Dir() + "/" + archiveFile)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestCheckpointSequenceIncreasesAcrossRestarts(t *testing.T) {
	s := newFileStore(t, 0)
	source := SourceFunc(sampleState)

	first := NewCheckpointer(Config{}, s, source, nil)
	for i := 0; i < 3; i++ {
		_, err := first.Commit(t.Context(), "heartbeat")
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(3), first.LastSeq())

	res, err := Recover(t.Context(), s)
	require.NoError(t, err)
	second := NewCheckpointer(Config{}, s, source, nil)
	second.Resume(res.Floor)
	cp, err := second.Commit(t.Context(), "heartbeat")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), cp.Seq)
}

type flakyStore struct {
	mu    sync.Mutex
	fails int
	saved []uint64
}

func (s *flakyStore) SaveCheckpoint(_ context.Context, seq uint64, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("disk full")
	}
	s.saved = append(s.saved, seq)
	return nil
}

func (s *flakyStore) LoadLatestCheckpoint(context.Context, uint64) (uint64, []byte, error) {
	return 0, nil, exception.ErrNoCheckpoint
}

func (s *flakyStore) Close() error { return nil }

func TestCheckpointerRetriesAndEscalates(t *testing.T) {
	store := &flakyStore{fails: 1}
	c := NewCheckpointer(Config{Retries: 1, RetryDelay: time.Millisecond, MaxFailures: 2}, store, SourceFunc(sampleState), nil)

	_, err := c.Commit(t.Context(), "fill")
	require.NoError(t, err, "one retry absorbs a single failure")

	store.fails = 4
	_, err = c.Commit(t.Context(), "fill")
	assert.True(t, errors.Is(err, exception.ErrPersistence))
	assert.False(t, exception.IsFatal(err))

	_, err = c.Commit(t.Context(), "fill")
	assert.True(t, errors.Is(err, exception.ErrPersistenceFatal))
	assert.True(t, exception.IsFatal(err))

	cp, err := c.Commit(t.Context(), "fill")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), cp.Seq)
	assert.Equal(t, []uint64{1, 4}, store.saved)
}

func TestCheckpointerRunStopsOnContext(t *testing.T) {
	s := newFileStore(t, 0)
	c := NewCheckpointer(Config{HeartbeatInterval: 5 * time.Millisecond}, s, SourceFunc(sampleState), nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return c.LastSeq() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestArchivedOrderRow(t *testing.T) {
	_, orders := sampleState()
	row, err := newArchivedOrderRow(orders[0])
	require.NoError(t, err)
	assert.Equal(t, "o-1", row.ID)
	assert.Equal(t, "STOP", row.Kind)
	assert.Equal(t, "95.24", row.Price)
	assert.NotEmpty(t, row.Payload)
}
