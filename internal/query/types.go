package query

import "encoding/json"

// Every response carries AsOfSequence: the projection watermark at read
// time, so callers can reason about staleness against the event log.

type LoanResponse struct {
	LoanID           string `json:"loan_id"`
	Term             string `json:"term"`
	Borrower         string `json:"borrower"`
	BorrowAmount     string `json:"borrow_amount"`
	CollateralAmount string `json:"collateral_amount"`
	OpenTime         int64  `json:"open_time"`
	Status           string `json:"status"`
	Caller           string `json:"caller,omitempty"`
	CallTime         *int64 `json:"call_time,omitempty"`
	CloseTime        *int64 `json:"close_time,omitempty"`
	LastPartialRepay *int64 `json:"last_partial_repay,omitempty"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

type AuctionResponse struct {
	LoanID         string `json:"loan_id"`
	Term           string `json:"term"`
	StartTime      int64  `json:"start_time"`
	EndTime        *int64 `json:"end_time,omitempty"`
	Bidder         string `json:"bidder,omitempty"`
	CollateralSold string `json:"collateral_sold,omitempty"`
	DebtRecovered  string `json:"debt_recovered,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	AsOfSequence   int64  `json:"as_of_sequence"`
}

type EventResponse struct {
	Sequence       int64           `json:"sequence"`
	CommandType    string          `json:"command_type"`
	Term           *string         `json:"term,omitempty"`
	Tick           int64           `json:"tick"`
	SourceSequence int64           `json:"source_sequence"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
}

// LoanFilter narrows ListLoans. Zero values mean "any".
type LoanFilter struct {
	Term     string
	Borrower string
	Status   string
	Limit    int
}

// IntegrityReport summarizes event-log health.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	LatestSequence  int64   `json:"latest_sequence"`
	Watermark       int64   `json:"watermark"`
}
