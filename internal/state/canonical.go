package state

import (
	"encoding/binary"
)

// Canonical encodings feed the state hash chain. Field order is fixed and
// integers are little-endian; changing either breaks replay verification.

func (r PriceRecord) CanonicalBytes() []byte {
	buf := make([]byte, 0, 32+8*4+20)
	buf = append(buf, r.Commodity[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, r.Price)
	buf = binary.LittleEndian.AppendUint64(buf, r.Confidence)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Timestamp))
	buf = append(buf, r.Updater[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, r.UpdateCount)
	return buf
}

func (rec MarketRecord) CanonicalBytes() []byte {
	buf := make([]byte, 0, 16+32+20+8*7+1+8+8)
	buf = append(buf, rec.ID[:]...)
	buf = append(buf, rec.Commodity[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, rec.ThresholdPrice)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.CreationTime))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.ExpiryTime))
	buf = append(buf, rec.Creator[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, rec.YesPool)
	buf = binary.LittleEndian.AppendUint64(buf, rec.NoPool)
	buf = binary.LittleEndian.AppendUint64(buf, rec.PaidOut)
	if rec.Resolution == nil {
		return append(buf, 0)
	}
	outcome := byte(1)
	if rec.Resolution.Outcome {
		outcome = 2
	}
	buf = append(buf, outcome)
	buf = binary.LittleEndian.AppendUint64(buf, rec.Resolution.OraclePrice)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.Resolution.ResolutionTime))
	return buf
}

func (p Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 16+20+8+8+1)
	buf = append(buf, p.MarketID[:]...)
	buf = append(buf, p.Owner[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, p.YesShares)
	buf = binary.LittleEndian.AppendUint64(buf, p.NoShares)
	if p.Claimed {
		return append(buf, 1)
	}
	return append(buf, 0)
}
