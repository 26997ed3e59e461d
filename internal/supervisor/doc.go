// Package supervisor launches the augmentation pipeline in its own session,
// and so its own process group, and tracks it through a lock file holding
// the group id.
//
// The lock file is the only liveness oracle: Status reports running exactly
// when the file exists, so answers stay correct across supervisor restarts
// and across separate CLI invocations. The in-memory handle kept by Start is
// an optimization used to reap the child and to reject a second Start from
// the same process.
//
// Control operations (Start, Stop, ResetStore, ApprovePending, Recover) are
// serialized across processes with a flock on "<lock>.flock", so two
// concurrent `qforge augment` invocations cannot both pass the lock check.
package supervisor
