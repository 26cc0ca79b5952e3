// Package votingprogram implements the state records and transitions of the
// on-chain poll/voting program.
//
// The module owns the program counter, polls, candidates, voters and
// registrations. Every mutation runs as one ledger transaction that validates
// all preconditions before writing, so callers never observe a partial
// update. Persistence, event relay and transport live behind ports and
// adapters.
package votingprogram
