package aggregation

import (
	"errors"
	"fmt"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/shopspring/decimal"
)

// ErrUnknownActionType is returned for action kinds outside the weight table.
var ErrUnknownActionType = errors.New("unknown action type")

// Weights is the engagement scale. Strictly increasing: view < register < like.
// The upgrade-only rule depends on no two kinds sharing a weight.
var Weights = map[v1.ActionType]decimal.Decimal{
	v1.ActionView:     decimal.RequireFromString("0.4"),
	v1.ActionRegister: decimal.RequireFromString("0.8"),
	v1.ActionLike:     decimal.RequireFromString("1.0"),
}

// WeightOf maps an action kind to its weight in (0, 1].
func WeightOf(kind v1.ActionType) (decimal.Decimal, error) {
	w, ok := Weights[kind]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownActionType, kind)
	}
	return w, nil
}
