package state

import (
	"bytes"
	"sort"

	"PredictLedger/internal/domain"
	"PredictLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
)

// MaxOracleAge is the default staleness window, in seconds.
const MaxOracleAge int64 = 3600

// PriceRecord is the latest observation for one commodity.
type PriceRecord struct {
	Commodity   domain.CommodityID `json:"commodity"`
	Price       uint64             `json:"price"`
	Confidence  uint64             `json:"confidence"`
	Timestamp   int64              `json:"timestamp"`
	Updater     common.Address     `json:"updater"`
	UpdateCount uint64             `json:"update_count"`
}

// PriceFeedStore holds one PriceRecord per commodity, written only by the
// registered publisher.
type PriceFeedStore struct {
	publisher common.Address
	records   map[domain.CommodityID]*PriceRecord
}

// NewPriceFeedStore returns an empty store that accepts updates only from
// publisher.
func NewPriceFeedStore(publisher common.Address) *PriceFeedStore {
	return &PriceFeedStore{
		publisher: publisher,
		records:   make(map[domain.CommodityID]*PriceRecord),
	}
}

// Publisher returns the registered publisher identity.
func (s *PriceFeedStore) Publisher() common.Address {
	return s.publisher
}

// Publish creates or updates the record for commodity, stamped with now.
func (s *PriceFeedStore) Publish(
	commodity domain.CommodityID,
	price, confidence uint64,
	caller common.Address,
	now int64,
) (event.PriceUpdated, error) {
	if price == 0 {
		return event.PriceUpdated{}, domain.ErrInvalidPrice
	}
	if confidence == 0 || confidence > 100 {
		return event.PriceUpdated{}, domain.ErrInvalidConfidence
	}
	if caller != s.publisher {
		return event.PriceUpdated{}, domain.ErrUnauthorized
	}

	rec := s.records[commodity]
	if rec != nil && now < rec.Timestamp {
		return event.PriceUpdated{}, domain.ErrTimestampRegression
	}

	if rec == nil {
		rec = &PriceRecord{Commodity: commodity}
		s.records[commodity] = rec
	}
	rec.Price = price
	rec.Confidence = confidence
	rec.Timestamp = now
	rec.Updater = caller
	rec.UpdateCount++

	return event.PriceUpdated{
		Commodity:  commodity,
		Price:      price,
		Confidence: confidence,
		Timestamp:  now,
	}, nil
}

// Read returns a copy of the current record. It does not check staleness.
func (s *PriceFeedStore) Read(commodity domain.CommodityID) (PriceRecord, error) {
	rec := s.records[commodity]
	if rec == nil {
		return PriceRecord{}, domain.ErrPriceNotInitialized
	}
	return *rec, nil
}

// IsStale reports whether record is older than maxAge at now.
func IsStale(record PriceRecord, now, maxAge int64) bool {
	return now-record.Timestamp > maxAge
}

// Len returns the number of commodities with a published price.
func (s *PriceFeedStore) Len() int {
	return len(s.records)
}

// Records returns copies of all records ordered by commodity id.
func (s *PriceFeedStore) Records() []PriceRecord {
	out := make([]PriceRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Commodity[:], out[j].Commodity[:]) < 0
	})
	return out
}

// Restore installs a record verbatim (snapshot restore only).
func (s *PriceFeedStore) Restore(rec PriceRecord) {
	r := rec
	s.records[rec.Commodity] = &r
}
