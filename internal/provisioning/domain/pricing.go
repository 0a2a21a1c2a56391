package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PointsPerCent converts provider points to cents: one point is 1/10000 of
// a unit, so 100 points make one cent.
const PointsPerCent = 100

// MaxTransactionIDLength is the provider's limit on transactionId.
const MaxTransactionIDLength = 50

var transactionNamespace = uuid.MustParse("8f3c7a52-4b7e-5d2a-9c41-2f6d0c9b7e13")

// CentsFromPoints converts provider points into cents, rounding half up.
func CentsFromPoints(points int64) int64 {
	if points <= 0 {
		return 0
	}
	return (points + PointsPerCent/2) / PointsPerCent
}

func PointsFromCents(cents int64) int64 {
	if cents <= 0 {
		return 0
	}
	return cents * PointsPerCent
}

// CostFromRetail backs the provider cost out of a marked-up retail price,
// rounding half up. It ignores markup changes since the sale.
func CostFromRetail(retailCents, markupPercent int64) int64 {
	if retailCents <= 0 {
		return 0
	}
	if markupPercent <= 0 {
		return retailCents
	}
	denom := 100 + markupPercent
	return (retailCents*100*2 + denom) / (denom * 2)
}

// TransactionID derives a stable provider transaction id for an order and
// payment method so retries never mint a second provider order.
func TransactionID(prefix string, orderID string, paymentMethod string) string {
	prefix = strings.TrimSpace(prefix)
	id := uuid.NewSHA1(transactionNamespace, []byte(fmt.Sprintf("%s:%s", orderID, paymentMethod)))
	compact := strings.ReplaceAll(id.String(), "-", "")
	maxPrefix := MaxTransactionIDLength - len(compact)
	if len(prefix) > maxPrefix {
		prefix = prefix[:maxPrefix]
	}
	return prefix + compact
}
