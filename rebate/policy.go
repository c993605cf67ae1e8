package rebate

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/winloss-engine/generic"
)

// Approval is the status given to newly created rebates.
type Approval string

const (
	ApprovalPending  Approval = "pending"
	ApprovalApproved Approval = "approved"
)

// ParseApproval maps a configuration value to an Approval. Empty means pending.
func ParseApproval(s string) (Approval, error) {
	switch a := Approval(s); a {
	case ApprovalPending, ApprovalApproved:
		return a, nil
	case "":
		return ApprovalPending, nil
	}
	return "", fmt.Errorf("rebate: unknown approval policy %q", s)
}

func (a Approval) status() generic.TransactionStatus {
	if a == ApprovalApproved {
		return generic.StatusApproved
	}
	return generic.StatusPending
}

// Policy is the deployment's rebate configuration.
type Policy struct {
	Rate     decimal.Decimal // fraction of net loss, in (0, 1]
	Approval Approval
}

// Validate rejects a rate outside (0, 1] or an unknown approval.
func (p Policy) Validate() error {
	if !p.Rate.IsPositive() || p.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("rebate: rate %s must be in (0, 1]", p.Rate)
	}
	if _, err := ParseApproval(string(p.Approval)); err != nil {
		return err
	}
	return nil
}

// Amount is round(netLoss * rate, 4).
func (p Policy) Amount(netLoss decimal.Decimal) decimal.Decimal {
	return generic.RoundMoney(netLoss.Mul(p.Rate))
}

// Reference is the idempotency reference of the rebate for (day, customer, game).
// Format: REBATE-<local yyyymmdd>-<customer>-<game>.
func Reference(cal *generic.BusinessCalendar, day time.Time, customerID generic.CustomerID, gameID generic.GameID) string {
	return ReferencePrefix(cal, day) + strconv.FormatInt(int64(customerID), 10) + "-" + strconv.FormatInt(int64(gameID), 10)
}

// ReferencePrefix is the prefix shared by every rebate reference of day.
func ReferencePrefix(cal *generic.BusinessCalendar, day time.Time) string {
	return "REBATE-" + cal.DayKey(day) + "-"
}
