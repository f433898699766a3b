// Package sync reconciles audience sets with the contact service.
//
// Each target is reconciled independently and incrementally:
//
//   - the cache is read to find the uuids already synced to the target
//   - the delta between the desired audience and the cache is computed
//   - an empty delta ends the target without any external call
//   - otherwise the delta is re-identified in one batch, the target field or
//     group is created when absent, and every contact is mutated
//   - each mutated contact is reverse-resolved and appended to the cache
//     before the next one is touched
//
// # Phases
//
// A target moves through Pending, Diffed and then either Skipped or
// Applying. Applying ends in Done or Failed. The first failing contact
// fails the target and stops the run; contacts appended before the
// failure stay in the cache, so the next run resumes from there.
//
// # Dry run
//
// With WithDryRun the reconciler stops after the diff. It reports how many
// contacts would be synced and makes no external calls or cache writes.
package sync
