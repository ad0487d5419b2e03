package repositories

import "errors"

// ErrNotFound is returned by repository methods when the requested record
// does not exist, has expired, or is hidden from the caller by tenant
// scoping. Callers check for it with errors.Is to distinguish missing
// records from database errors.
//
//	job, err := repo.GetForAgent(ctx, jobID, agentID)
//	if errors.Is(err, repositories.ErrNotFound) {
//	    handle not found
//	}
//
// Conditional state transitions (claim, complete, fail, replay, mark-read)
// also surface ErrNotFound when their guard matches no row, so a losing
// racer observes the same error as a caller naming a job that never existed.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when an insert violates a unique constraint.
var ErrConflict = errors.New("record already exists")
