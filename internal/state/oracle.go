package state

import "margincore/internal/fixedpoint"

// OraclePrice is the latest observation from a bank's price feed.
type OraclePrice struct {
	Price       fixedpoint.Num
	Sequence    int64
	TimestampUs int64
}

// PriceBook caches the most recent oracle price per token index. Prices are
// versioned inputs; updates carry their own sequence and timestamp, and the
// core never consults a wall clock. Feed internals live in the ingestion
// layer; this is only the contract the health engine needs.
type PriceBook struct {
	prices map[TokenIndex]OraclePrice
}

func NewPriceBook() *PriceBook {
	return &PriceBook{prices: make(map[TokenIndex]OraclePrice)}
}

// Update stores a price observation. Out-of-order observations are ignored
// (idempotent); gaps are tolerated, unlike instruction sequences.
func (pb *PriceBook) Update(token TokenIndex, price OraclePrice) {
	if cur, ok := pb.prices[token]; ok && price.Sequence <= cur.Sequence {
		return
	}
	pb.prices[token] = price
}

// Get returns the cached price for a token index.
func (pb *PriceBook) Get(token TokenIndex) (OraclePrice, bool) {
	p, ok := pb.prices[token]
	return p, ok
}

// Snapshot copies the book for recovery snapshots.
func (pb *PriceBook) Snapshot() map[TokenIndex]OraclePrice {
	out := make(map[TokenIndex]OraclePrice, len(pb.prices))
	for k, v := range pb.prices {
		out[k] = v
	}
	return out
}

// Restore replaces the book's contents from a snapshot.
func (pb *PriceBook) Restore(prices map[TokenIndex]OraclePrice) {
	pb.prices = make(map[TokenIndex]OraclePrice, len(prices))
	for k, v := range prices {
		pb.prices[k] = v
	}
}
