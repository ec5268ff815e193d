package keygrant

import "github.com/keygrant/keygrant/domain"

// Error is the engine's error type: a stable kind plus a human-readable
// description. Callers branch on the kind, never on the description text.
type Error = domain.Error

// Error kinds
const (
	KindNotFound         = domain.KindNotFound
	KindInvalidArgument  = domain.KindInvalidArgument
	KindInvalidToken     = domain.KindInvalidToken
	KindUnknownAlgorithm = domain.KindUnknownAlgorithm
	KindInvalidOperation = domain.KindInvalidOperation
)

// Kind predicates for branching on failures
var (
	IsNotFound         = domain.IsNotFound
	IsInvalidArgument  = domain.IsInvalidArgument
	IsInvalidToken     = domain.IsInvalidToken
	IsUnknownAlgorithm = domain.IsUnknownAlgorithm
	IsInvalidOperation = domain.IsInvalidOperation
)
