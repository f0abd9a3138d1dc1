package exchange

import (
	"strconv"
	"time"
)

// FillCap is the provider-imposed maximum number of fills per request.
// A response of exactly this size means the caller must paginate.
const FillCap = 10000

// Fill is one exchange trade record as returned by the info API
type Fill struct {
	Coin   string `json:"coin"`
	Px     string `json:"px"`
	Sz     string `json:"sz"`
	Side   string `json:"side"` // B or A
	Time   int64  `json:"time"` // Milliseconds
	Hash   string `json:"hash"`
	TID    int64  `json:"tid"`
	Oid    int64  `json:"oid"`
	Dir    string `json:"dir"`
	FeeStr string `json:"fee"`
}

// Price parses the fill price
func (f *Fill) Price() float64 {
	v, _ := strconv.ParseFloat(f.Px, 64)
	return v
}

// Size parses the fill size
func (f *Fill) Size() float64 {
	v, _ := strconv.ParseFloat(f.Sz, 64)
	return v
}

// Candle is one OHLC bar from the candle snapshot endpoint
type Candle struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Coin      string `json:"s"`
	Interval  string `json:"i"`
	OpenStr   string `json:"o"`
	CloseStr  string `json:"c"`
	HighStr   string `json:"h"`
	LowStr    string `json:"l"`
	VolumeStr string `json:"v"`
}

// Open parses the candle open price
func (c *Candle) Open() float64 {
	v, _ := strconv.ParseFloat(c.OpenStr, 64)
	return v
}

// Close parses the candle close price
func (c *Candle) Close() float64 {
	v, _ := strconv.ParseFloat(c.CloseStr, 64)
	return v
}

// High parses the candle high price
func (c *Candle) High() float64 {
	v, _ := strconv.ParseFloat(c.HighStr, 64)
	return v
}

// Low parses the candle low price
func (c *Candle) Low() float64 {
	v, _ := strconv.ParseFloat(c.LowStr, 64)
	return v
}

// Timestamp returns the candle open time as a time.Time
func (c *Candle) Timestamp() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// Request bodies for the info endpoint

type userFillsRequest struct {
	Type      string `json:"type"` // userFillsByTime
	User      string `json:"user"`
	StartTime int64  `json:"startTime"`
}

type candleSnapshotRequest struct {
	Type string `json:"type"` // candleSnapshot
	Req  struct {
		Coin      string `json:"coin"`
		Interval  string `json:"interval"`
		StartTime int64  `json:"startTime"`
		EndTime   int64  `json:"endTime,omitempty"`
	} `json:"req"`
}
