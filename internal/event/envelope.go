package event

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeBorrow
	CommandTypeAddCollateral
	CommandTypePartialRepay
	CommandTypeRepay
	CommandTypeCall
	CommandTypeBid
	CommandTypeForgiveAuction
	CommandTypeForgiveLoan
	CommandTypeDonateSurplus
	CommandTypeWithdrawSurplus
	CommandTypeClaimRewards
	CommandTypeGaugeWeightUpdate
	CommandTypeGaugeStakeUpdate
	CommandTypeMintCollateral
	CommandTypeMintCredit
	CommandTypeApproveCollateral
	CommandTypeApproveCredit
)

// Envelope wraps every applied command in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator
	CommandType CommandType

	// Term context (nullable for global commands)
	Term *string

	// Versioned clock tick carried by the command (NOT wall-clock)
	Tick int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command plus result data
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous envelope's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all inbound commands must implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Term returns the loan book context (nil for global commands)
	Term() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// Tick returns the versioned clock value the command executes at
	Tick() int64
}

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeBorrow:
		return "Borrow"
	case CommandTypeAddCollateral:
		return "AddCollateral"
	case CommandTypePartialRepay:
		return "PartialRepay"
	case CommandTypeRepay:
		return "Repay"
	case CommandTypeCall:
		return "Call"
	case CommandTypeBid:
		return "Bid"
	case CommandTypeForgiveAuction:
		return "ForgiveAuction"
	case CommandTypeForgiveLoan:
		return "ForgiveLoan"
	case CommandTypeDonateSurplus:
		return "DonateSurplus"
	case CommandTypeWithdrawSurplus:
		return "WithdrawSurplus"
	case CommandTypeClaimRewards:
		return "ClaimRewards"
	case CommandTypeGaugeWeightUpdate:
		return "GaugeWeightUpdate"
	case CommandTypeGaugeStakeUpdate:
		return "GaugeStakeUpdate"
	case CommandTypeMintCollateral:
		return "MintCollateral"
	case CommandTypeMintCredit:
		return "MintCredit"
	case CommandTypeApproveCollateral:
		return "ApproveCollateral"
	case CommandTypeApproveCredit:
		return "ApproveCredit"
	default:
		return "Unknown"
	}
}
