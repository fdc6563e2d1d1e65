package state

import (
	"context"
	"time"

	"alats/internal/model"
	"alats/pkg/conn"
	"alats/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type checkpointRow struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Payload   []byte `gorm:"not null"`
	CreatedAt time.Time
}

func (checkpointRow) TableName() string {
	return "checkpoints"
}

type archivedOrderRow struct {
	ID           string `gorm:"primaryKey"`
	Asset        string `gorm:"index"`
	Side         string
	Kind         string
	Role         string
	Status       string `gorm:"index"`
	Qty          string
	Price        string
	FilledQty    string
	AvgFillPrice string
	ParentID     string
	CreatedAt    time.Time
	TerminalAt   time.Time
	Payload      []byte
}

func (archivedOrderRow) TableName() string {
	return "archived_orders"
}

func newArchivedOrderRow(o model.Order) (archivedOrderRow, error) {
	payload, err := sonic.Marshal(o)
	if err != nil {
		return archivedOrderRow{}, errors.Wrap(err, "marshal archived order")
	}
	return archivedOrderRow{
		ID:           o.ID,
		Asset:        o.Asset,
		Side:         o.Side.String(),
		Kind:         o.Kind.String(),
		Role:         o.Role.String(),
		Status:       o.Status.String(),
		Qty:          o.Qty.String(),
		Price:        o.Price.String(),
		FilledQty:    o.FilledQty.String(),
		AvgFillPrice: o.AvgFillPrice.String(),
		ParentID:     o.ParentID,
		CreatedAt:    o.CreatedAt,
		TerminalAt:   o.TerminalAt,
		Payload:      payload,
	}, nil
}

// PGStore keeps checkpoints and archived orders in PostgreSQL.
type PGStore struct {
	client *conn.Client
	db     *gorm.DB
	retain int
}

// NewPGStore migrates the tables and returns a store on client.
func NewPGStore(client *conn.Client, retain int) (*PGStore, error) {
	db := client.DB()
	if db == nil {
		return nil, exception.ErrNilInstance
	}
	if err := db.AutoMigrate(&checkpointRow{}, &archivedOrderRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate checkpoint tables")
	}
	return &PGStore{client: client, db: db, retain: retain}, nil
}

func (s *PGStore) SaveCheckpoint(ctx context.Context, seq uint64, payload []byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := checkpointRow{Seq: seq, Payload: payload, CreatedAt: time.Now().UTC()}
		if err := tx.Create(&row).Error; err != nil {
			return errors.Wrap(err, "insert checkpoint").With("seq", seq)
		}
		if s.retain > 0 && seq > uint64(s.retain) {
			if err := tx.Where("seq <= ?", seq-uint64(s.retain)).Delete(&checkpointRow{}).Error; err != nil {
				return errors.Wrap(err, "prune checkpoints")
			}
		}
		return nil
	})
}

func (s *PGStore) LoadLatestCheckpoint(ctx context.Context, below uint64) (uint64, []byte, error) {
	q := s.db.WithContext(ctx).Order("seq DESC")
	if below != 0 {
		q = q.Where("seq < ?", below)
	}
	var row checkpointRow
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil, exception.ErrNoCheckpoint
		}
		return 0, nil, errors.Wrap(err, "load checkpoint")
	}
	return row.Seq, row.Payload, nil
}

// Archive inserts a terminal order once; repeated archiving is a no-op.
func (s *PGStore) Archive(ctx context.Context, order model.Order) error {
	row, err := newArchivedOrderRow(order)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "archive order").With("id", order.ID)
	}
	return nil
}

func (s *PGStore) Close() error {
	return s.client.Close()
}
