package scan

import (
	"fmt"

	"github.com/vulnscanio/engine/pkg/domain/shared"
)

// Domain errors.
var (
	ErrNotFound            = fmt.Errorf("%w: scan not found", shared.ErrNotFound)
	ErrInvalidID           = fmt.Errorf("%w: invalid scan ID format", shared.ErrValidation)
	ErrUnknownProfile      = fmt.Errorf("%w: unknown scan profile", shared.ErrValidation)
	ErrUnknownModule       = fmt.Errorf("%w: unknown scan module", shared.ErrValidation)
	ErrDuplicateActiveScan = fmt.Errorf("%w: an active scan already exists for this target", shared.ErrConflict)
	ErrNotCancellable      = fmt.Errorf("%w: scan is already in a terminal state", shared.ErrConflict)
	ErrDuplicateResult     = fmt.Errorf("%w: module result already recorded", shared.ErrConflict)
	ErrOrchestrator        = fmt.Errorf("%w: orchestrator failure", shared.ErrUnavailable)
	ErrScheduleNotFound    = fmt.Errorf("%w: scan schedule not found", shared.ErrNotFound)
)
