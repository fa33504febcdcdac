package postgres

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"tripledger/internal/domain"
)

// lineDocVersion is the current shape of the JSONB line columns.
//
// v1 rows hold a bare array using the old field names (qty, price, fromTripId,
// fromDriverId, fromDriverName, toDriverId, toDriverName). v2 wraps the lines in
// {"v":2,"lines":[...]}. Reads accept both; writes always produce v2.
const lineDocVersion = 2

type lineRecord struct {
	ProductID           string          `json:"productId"`
	ProductName         string          `json:"productName"`
	Category            domain.Category `json:"category"`
	Quantity            decimal.Decimal `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unitPrice"`
	SourceTripID        string          `json:"sourceTripId,omitempty"`
	SendingDriverID     string          `json:"sendingDriverId,omitempty"`
	SendingDriverName   string          `json:"sendingDriverName,omitempty"`
	ReceivingDriverID   string          `json:"receivingDriverId,omitempty"`
	ReceivingDriverName string          `json:"receivingDriverName,omitempty"`
}

type lineDocument struct {
	Version int          `json:"v"`
	Lines   []lineRecord `json:"lines"`
}

type legacyLineRecord struct {
	ProductID      string          `json:"productId"`
	Name           string          `json:"name"`
	Category       domain.Category `json:"category"`
	Qty            decimal.Decimal `json:"qty"`
	Price          decimal.Decimal `json:"price"`
	FromTripID     string          `json:"fromTripId"`
	FromDriverID   string          `json:"fromDriverId"`
	FromDriverName string          `json:"fromDriverName"`
	ToDriverID     string          `json:"toDriverId"`
	ToDriverName   string          `json:"toDriverName"`
}

func (l legacyLineRecord) upgrade() lineRecord {
	return lineRecord{
		ProductID:           l.ProductID,
		ProductName:         l.Name,
		Category:            l.Category,
		Quantity:            l.Qty,
		UnitPrice:           l.Price,
		SourceTripID:        l.FromTripID,
		SendingDriverID:     l.FromDriverID,
		SendingDriverName:   l.FromDriverName,
		ReceivingDriverID:   l.ToDriverID,
		ReceivingDriverName: l.ToDriverName,
	}
}

func encodeLines(records []lineRecord) ([]byte, error) {
	if records == nil {
		records = []lineRecord{}
	}
	return json.Marshal(lineDocument{Version: lineDocVersion, Lines: records})
}

func decodeLines(raw []byte) ([]lineRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '[' {
		var legacy []legacyLineRecord
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, fmt.Errorf("decode v1 lines: %w", err)
		}
		records := make([]lineRecord, 0, len(legacy))
		for _, l := range legacy {
			records = append(records, l.upgrade())
		}
		return records, nil
	}

	var doc lineDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode lines: %w", err)
	}
	if doc.Version != lineDocVersion {
		return nil, fmt.Errorf("decode lines: unsupported document version %d", doc.Version)
	}
	return doc.Lines, nil
}

func productRecords(lines []domain.ProductLine) []lineRecord {
	records := make([]lineRecord, 0, len(lines))
	for _, l := range lines {
		records = append(records, fromProductLine(l))
	}
	return records
}

func acceptedRecords(lines []domain.AcceptedLine) []lineRecord {
	records := make([]lineRecord, 0, len(lines))
	for _, l := range lines {
		r := fromProductLine(l.ProductLine)
		r.SourceTripID = l.SourceTripID
		r.SendingDriverID = l.SendingDriverID
		r.SendingDriverName = l.SendingDriverName
		records = append(records, r)
	}
	return records
}

func transferRecords(lines []domain.TransferLine) []lineRecord {
	records := make([]lineRecord, 0, len(lines))
	for _, l := range lines {
		r := fromProductLine(l.ProductLine)
		r.SourceTripID = l.SourceTripID
		r.SendingDriverID = l.SendingDriverID
		r.SendingDriverName = l.SendingDriverName
		r.ReceivingDriverID = l.ReceivingDriverID
		r.ReceivingDriverName = l.ReceivingDriverName
		records = append(records, r)
	}
	return records
}

func fromProductLine(l domain.ProductLine) lineRecord {
	return lineRecord{
		ProductID:   l.ProductID,
		ProductName: l.ProductName,
		Category:    l.Category,
		Quantity:    l.Quantity,
		UnitPrice:   l.UnitPrice,
	}
}

func (r lineRecord) productLine() domain.ProductLine {
	return domain.ProductLine{
		ProductID:   r.ProductID,
		ProductName: r.ProductName,
		Category:    r.Category,
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice,
	}
}

func toProductLines(records []lineRecord) []domain.ProductLine {
	lines := make([]domain.ProductLine, 0, len(records))
	for _, r := range records {
		lines = append(lines, r.productLine())
	}
	return lines
}

func toAcceptedLines(records []lineRecord) []domain.AcceptedLine {
	lines := make([]domain.AcceptedLine, 0, len(records))
	for _, r := range records {
		lines = append(lines, domain.AcceptedLine{
			ProductLine:       r.productLine(),
			SourceTripID:      r.SourceTripID,
			SendingDriverID:   r.SendingDriverID,
			SendingDriverName: r.SendingDriverName,
		})
	}
	return lines
}

func toTransferLines(records []lineRecord) []domain.TransferLine {
	lines := make([]domain.TransferLine, 0, len(records))
	for _, r := range records {
		lines = append(lines, domain.TransferLine{
			ProductLine:         r.productLine(),
			SourceTripID:        r.SourceTripID,
			SendingDriverID:     r.SendingDriverID,
			SendingDriverName:   r.SendingDriverName,
			ReceivingDriverID:   r.ReceivingDriverID,
			ReceivingDriverName: r.ReceivingDriverName,
		})
	}
	return lines
}

// totalsRecord is the JSONB shape of the per-category totals.
type totalsRecord struct {
	Fresh  categoryRecord `json:"fresh"`
	Bakery categoryRecord `json:"bakery"`
}

type categoryRecord struct {
	Total       decimal.Decimal `json:"total"`
	Accepted    decimal.Decimal `json:"accepted"`
	Transferred decimal.Decimal `json:"transferred"`
	NetTotal    decimal.Decimal `json:"netTotal"`
	GrandTotal  decimal.Decimal `json:"grandTotal"`
}

func categoryToRecord(c domain.CategoryTotals) categoryRecord {
	return categoryRecord(c)
}

func (c categoryRecord) totals() domain.CategoryTotals {
	return domain.CategoryTotals(c)
}
