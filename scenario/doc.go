// Package scenario reproduces the version counter experiments as runnable
// scenarios.
//
// A scenario drives a store.Store through a fixed sequence of finds, saves,
// flushes and commits and records every observed version counter or name
// next to the value the locking contract predicts. Scenarios work on any
// backend; each one owns a disjoint id range and wipes it before running,
// so they can share a database.
//
//	reports, err := scenario.RunAll(ctx, st)
//	for _, r := range reports {
//		fmt.Println(r)
//	}
package scenario
